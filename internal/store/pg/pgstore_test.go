package pg

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"csebu.org/internal/auth"
	"csebu.org/internal/booking"
	"csebu.org/internal/payment"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

var userCols = []string{"id", "email", "password_hash", "name", "role", "status", "approved_at", "rejection_reason",
	"roll", "reg_no", "session", "semester", "phone", "cgpa_history", "avatar", "created_at", "updated_at"}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.Create(context.Background(), &auth.User{Email: "a@b.edu", Role: auth.RoleStudent, Status: auth.StatusPending})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByEmailDecodesJSONColumns(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("select .* from users where email = \\$1").
		WithArgs("a@b.edu").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(
			"u1", "a@b.edu", "hash", "Alice", "student", "approved", now, "",
			"17CSE001", "R-1", "2019-20", int64(3), "017", []byte(`[{"semNo":1,"cgpa":3.5},{"semNo":2,"cgpa":3.6}]`),
			[]byte(`{"url":"http://cdn/a.png","kind":"image"}`), now, now,
		))

	u, err := s.FindByEmail(context.Background(), "a@b.edu")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.Role != auth.RoleStudent || u.Status != auth.StatusApproved || u.Semester != 3 {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(u.CGPAHistory) != 2 || u.CGPAHistory[1].CGPA != 3.6 {
		t.Fatalf("unexpected history: %+v", u.CGPAHistory)
	}
	if u.Avatar == nil || u.Avatar.Href() != "http://cdn/a.png" {
		t.Fatalf("unexpected avatar: %+v", u.Avatar)
	}
	if u.ApprovedAt == nil || !u.ApprovedAt.Equal(now) {
		t.Fatalf("unexpected approvedAt: %v", u.ApprovedAt)
	}
}

func TestFindMissingUser(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select .* from users where id = \\$1").WithArgs("nope").WillReturnRows(sqlmock.NewRows(userCols))

	if _, err := s.Find(context.Background(), "nope"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListUsersBuildsFilter(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select count\\(\\*\\) from users where role = \\$1 and status = \\$2").
		WithArgs("student", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(41)))
	mock.ExpectQuery("select .* from users where role = \\$1 and status = \\$2 order by created_at desc, id desc limit \\$3 offset \\$4").
		WithArgs("student", "pending", 20, 40).
		WillReturnRows(sqlmock.NewRows(userCols))

	users, total, err := s.List(context.Background(), auth.UserFilter{Role: auth.RoleStudent, Status: auth.StatusPending, Limit: 20, Offset: 40})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 41 || len(users) != 0 {
		t.Fatalf("unexpected result: total=%d users=%d", total, len(users))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetStatusMissingUser(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("update users set status = \\$1, approved_at = \\$2, rejection_reason = \\$3, updated_at = now\\(\\) where id = \\$4").
		WithArgs("rejected", nil, "docs", "ghost").
		WillReturnRows(sqlmock.NewRows(userCols))

	_, err := s.SetStatus(context.Background(), "ghost", auth.StatusChange{Status: auth.StatusRejected, RejectionReason: "docs"})
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTransactionStatus(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update payments set status").
		WithArgs("TXN1", "success", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update payments set status").
		WithArgs("TXN404", "failed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := s.UpdateTransactionStatus(context.Background(), "TXN1", payment.StatusSuccess, json.RawMessage(`{"status":"VALID"}`))
	if err != nil || !found {
		t.Fatalf("expected update, got found=%v err=%v", found, err)
	}
	found, err = s.UpdateTransactionStatus(context.Background(), "TXN404", payment.StatusFailed, nil)
	if err != nil || found {
		t.Fatalf("expected no row, got found=%v err=%v", found, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransactionsByUserOrder(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	cols := []string{"tran_id", "user_id", "roll", "semester", "purpose", "description", "method", "amount",
		"currency", "status", "gateway", "gateway_response", "created_at", "updated_at"}
	mock.ExpectQuery("from payments where user_id = \\$1 order by created_at asc, tran_id asc").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"TXN1", "u1", "17CSE001", "5", "semester_fee", "", "card", int64(50000), "BDT", "initiated", "sslcommerz", nil, now, now,
		))

	txs, err := s.TransactionsByUser(context.Background(), "u1", payment.OldestFirst)
	if err != nil {
		t.Fatalf("TransactionsByUser: %v", err)
	}
	if len(txs) != 1 || txs[0].Amount != 50000 || txs[0].Status != payment.StatusInitiated || txs[0].GatewayResponse != nil {
		t.Fatalf("unexpected rows: %+v", txs)
	}
}

func TestMissingTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("from payments where tran_id = \\$1").WithArgs("TXN404").
		WillReturnRows(sqlmock.NewRows([]string{"tran_id"}))
	if _, err := s.Transaction(context.Background(), "TXN404"); !errors.Is(err, payment.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateBookingConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into room_bookings").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.CreateBooking(context.Background(), &booking.Booking{RoomKey: booking.RoomAPL, TeacherName: "T", Session: "S", CreatedBy: "u1"})
	if !errors.Is(err, booking.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDeleteBookingMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("delete from room_bookings where id = \\$1").WithArgs("b1").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.DeleteBooking(context.Background(), "b1"); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPoolDefaults(t *testing.T) {
	got := Pool{MaxOpenConns: 4, MaxIdleConns: 8}.withDefaults()
	if got.MaxOpenConns != 4 || got.MaxIdleConns != 4 {
		t.Fatalf("idle conns must not exceed open conns: %+v", got)
	}
	if got.ConnMaxLifetime != DefaultPool.ConnMaxLifetime || got.ConnMaxIdleTime != DefaultPool.ConnMaxIdleTime {
		t.Fatalf("expected default lifetimes, got %+v", got)
	}
	if z := (Pool{}).withDefaults(); z != DefaultPool {
		t.Fatalf("zero pool = %+v, want %+v", z, DefaultPool)
	}
}

func TestStoreWithoutHandle(t *testing.T) {
	s := New(nil)
	if err := s.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Ping: expected ErrUnavailable, got %v", err)
	}
	if _, err := s.Find(context.Background(), "u1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Find: expected ErrUnavailable, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	if _, err := Open("  ", Pool{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestDeleteUserWithPaymentsIsRefused(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("delete from users where id = \\$1").WithArgs("u1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "payments_user_id_fkey"})

	if err := s.Delete(context.Background(), "u1"); !errors.Is(err, auth.ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
