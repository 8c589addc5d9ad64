package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"csebu.org/internal/asset"
	"csebu.org/internal/auth"
	"csebu.org/internal/ids"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, email, password_hash, name, role, status, approved_at, rejection_reason,
		roll, reg_no, session, semester, phone, cgpa_history, avatar, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) Create(ctx context.Context, u *auth.User) error {
	if s.db == nil {
		return ErrUnavailable
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	history, err := json.Marshal(nonNilHistory(u.CGPAHistory))
	if err != nil {
		return err
	}
	avatar, err := marshalAvatar(u.Avatar)
	if err != nil {
		return err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, name, role, status, approved_at, rejection_reason,
			roll, reg_no, session, semester, phone, cgpa_history, avatar)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		returning created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.Status, nullTime(u.ApprovedAt), u.RejectionReason,
		u.Roll, u.RegNo, u.Session, u.Semester, u.Phone, history, avatar)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if violation(err) == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) Find(ctx context.Context, id string) (*auth.User, error) {
	return s.userWhere(ctx, "id = $1", id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.userWhere(ctx, "email = $1", email)
}

func (s *Store) List(ctx context.Context, f auth.UserFilter) ([]auth.User, int, error) {
	if s.db == nil {
		return nil, 0, ErrUnavailable
	}
	var (
		conds []string
		args  []any
	)
	if f.Role != "" {
		args = append(args, f.Role)
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(name ilike $%d or email ilike $%d or roll ilike $%d or reg_no ilike $%d)", n, n, n, n))
	}
	where := ""
	if len(conds) > 0 {
		where = "where " + strings.Join(conds, " and ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `select ` + userColumns + ` from users ` + where + ` order by created_at desc, id desc`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" offset $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, upd auth.ProfileUpdate) (*auth.User, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Roll != nil {
		set("roll", *upd.Roll)
	}
	if upd.RegNo != nil {
		set("reg_no", *upd.RegNo)
	}
	if upd.Session != nil {
		set("session", *upd.Session)
	}
	if upd.Semester != nil {
		set("semester", *upd.Semester)
	}
	if upd.Phone != nil {
		set("phone", *upd.Phone)
	}
	if upd.CGPAHistory != nil {
		history, err := json.Marshal(nonNilHistory(*upd.CGPAHistory))
		if err != nil {
			return nil, err
		}
		set("cgpa_history", history)
	}
	if len(sets) == 0 {
		return s.Find(ctx, id)
	}
	return s.updateUser(ctx, id, sets, args)
}

func (s *Store) SetAvatar(ctx context.Context, id string, a asset.Asset) (*auth.User, error) {
	avatar, err := marshalAvatar(&a)
	if err != nil {
		return nil, err
	}
	return s.updateUser(ctx, id, []string{"avatar = $1"}, []any{avatar})
}

func (s *Store) SetRole(ctx context.Context, id string, role auth.Role) (*auth.User, error) {
	return s.updateUser(ctx, id, []string{"role = $1"}, []any{role})
}

func (s *Store) SetStatus(ctx context.Context, id string, st auth.StatusChange) (*auth.User, error) {
	return s.updateUser(ctx, id,
		[]string{"status = $1", "approved_at = $2", "rejection_reason = $3"},
		[]any{st.Status, nullTime(st.ApprovedAt), st.RejectionReason})
}

func (s *Store) SetPassword(ctx context.Context, id, passwordHash string) error {
	_, err := s.updateUser(ctx, id, []string{"password_hash = $1"}, []any{passwordHash})
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrUnavailable
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		if violation(err) == pgErrForeignKeyViolation {
			return auth.ErrInUse
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) updateUser(ctx context.Context, id string, sets []string, args []any) (*auth.User, error) {
	if s.db == nil {
		return nil, ErrUnavailable
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)
	query := fmt.Sprintf(`update users set %s where id = $%d returning %s`,
		strings.Join(sets, ", "), len(args), userColumns)
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) userWhere(ctx context.Context, cond string, arg any) (*auth.User, error) {
	if s.db == nil {
		return nil, ErrUnavailable
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where `+cond, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u          auth.User
		approvedAt sql.NullTime
		history    []byte
		avatar     []byte
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.Status, &approvedAt,
		&u.RejectionReason, &u.Roll, &u.RegNo, &u.Session, &u.Semester, &u.Phone, &history, &avatar,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if approvedAt.Valid {
		t := approvedAt.Time.UTC()
		u.ApprovedAt = &t
	}
	u.CGPAHistory = []auth.CGPARecord{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &u.CGPAHistory); err != nil {
			return nil, fmt.Errorf("decode cgpa_history: %w", err)
		}
	}
	if len(avatar) > 0 && string(avatar) != "null" {
		var a asset.Asset
		if err := json.Unmarshal(avatar, &a); err != nil {
			return nil, fmt.Errorf("decode avatar: %w", err)
		}
		u.Avatar = &a
	}
	return &u, nil
}

func marshalAvatar(a *asset.Asset) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func nonNilHistory(h []auth.CGPARecord) []auth.CGPARecord {
	if h == nil {
		return []auth.CGPARecord{}
	}
	return h
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
