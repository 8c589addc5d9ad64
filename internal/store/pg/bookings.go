package pg

import (
	"context"
	"database/sql"
	"errors"

	"csebu.org/internal/booking"
	"csebu.org/internal/ids"
)

var _ booking.Store = (*Store)(nil)

func (s *Store) CreateBooking(ctx context.Context, b *booking.Booking) error {
	if s.db == nil {
		return ErrUnavailable
	}
	if b.ID == "" {
		b.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into room_bookings (id, room_key, teacher_id, teacher_name, session, created_by)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, b.ID, b.RoomKey, nullIfEmpty(b.TeacherID), b.TeacherName, b.Session, b.CreatedBy)
	if err := row.Scan(&b.CreatedAt); err != nil {
		switch violation(err) {
		case pgErrUniqueViolation:
			return booking.ErrConflict
		case pgErrForeignKeyViolation:
			return booking.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) Bookings(ctx context.Context) ([]booking.Booking, error) {
	if s.db == nil {
		return nil, ErrUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select b.id, b.room_key, coalesce(b.teacher_id, ''), b.teacher_name, b.session, b.created_by,
			coalesce(u.name, ''), b.created_at
		from room_bookings b
		left join users u on u.id = b.created_by
		order by b.room_key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []booking.Booking{}
	for rows.Next() {
		var b booking.Booking
		if err := rows.Scan(&b.ID, &b.RoomKey, &b.TeacherID, &b.TeacherName, &b.Session, &b.CreatedBy,
			&b.CreatorName, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Booking(ctx context.Context, id string) (booking.Booking, error) {
	if s.db == nil {
		return booking.Booking{}, ErrUnavailable
	}
	var b booking.Booking
	err := s.db.QueryRowContext(ctx, `
		select id, room_key, coalesce(teacher_id, ''), teacher_name, session, created_by, created_at
		from room_bookings where id = $1
	`, id).Scan(&b.ID, &b.RoomKey, &b.TeacherID, &b.TeacherName, &b.Session, &b.CreatedBy, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Booking{}, booking.ErrNotFound
	}
	if err != nil {
		return booking.Booking{}, err
	}
	return b, nil
}

func (s *Store) DeleteBooking(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrUnavailable
	}
	res, err := s.db.ExecContext(ctx, `delete from room_bookings where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return booking.ErrNotFound
	}
	return nil
}
