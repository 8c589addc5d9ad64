package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"csebu.org/internal/payment"
)

var _ payment.Store = (*Store)(nil)

const paymentColumns = `tran_id, user_id, roll, semester, purpose, description, method, amount, currency,
		status, gateway, gateway_response, created_at, updated_at`

func (s *Store) CreateTransaction(ctx context.Context, tx *payment.Transaction) error {
	if s.db == nil {
		return ErrUnavailable
	}
	row := s.db.QueryRowContext(ctx, `
		insert into payments (tran_id, user_id, roll, semester, purpose, description, method, amount, currency, status, gateway)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning created_at, updated_at
	`, tx.TranID, tx.UserID, tx.Roll, tx.Semester, tx.Purpose, tx.Description, tx.Method,
		int64(tx.Amount), tx.Currency, tx.Status, tx.Gateway)
	if err := row.Scan(&tx.CreatedAt, &tx.UpdatedAt); err != nil {
		if violation(err) == pgErrUniqueViolation {
			return payment.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) Transaction(ctx context.Context, tranID string) (payment.Transaction, error) {
	if s.db == nil {
		return payment.Transaction{}, ErrUnavailable
	}
	tx, err := scanPayment(s.db.QueryRowContext(ctx,
		`select `+paymentColumns+` from payments where tran_id = $1`, tranID))
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Transaction{}, payment.ErrNotFound
	}
	if err != nil {
		return payment.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) TransactionsByUser(ctx context.Context, userID string, order payment.Order) ([]payment.Transaction, error) {
	if s.db == nil {
		return nil, ErrUnavailable
	}
	dir := "desc"
	if order == payment.OldestFirst {
		dir = "asc"
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+paymentColumns+` from payments where user_id = $1 order by created_at `+dir+`, tran_id `+dir, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []payment.Transaction{}
	for rows.Next() {
		tx, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateTransactionStatus is a single-row update, so racing callbacks on the
// same tran_id each land whole and the last one wins.
func (s *Store) UpdateTransactionStatus(ctx context.Context, tranID string, st payment.Status, resp json.RawMessage) (bool, error) {
	if s.db == nil {
		return false, ErrUnavailable
	}
	var body any
	if len(resp) > 0 {
		body = []byte(resp)
	}
	res, err := s.db.ExecContext(ctx, `
		update payments set status = $2, gateway_response = $3, updated_at = now()
		where tran_id = $1
	`, tranID, st, body)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff > 0, nil
}

func scanPayment(row rowScanner) (payment.Transaction, error) {
	var (
		tx     payment.Transaction
		amount int64
		resp   []byte
	)
	if err := row.Scan(&tx.TranID, &tx.UserID, &tx.Roll, &tx.Semester, &tx.Purpose, &tx.Description,
		&tx.Method, &amount, &tx.Currency, &tx.Status, &tx.Gateway, &resp, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return payment.Transaction{}, err
	}
	tx.Amount = payment.Amount(amount)
	if len(resp) > 0 {
		tx.GatewayResponse = json.RawMessage(resp)
	}
	return tx, nil
}
