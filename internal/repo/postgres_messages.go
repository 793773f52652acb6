package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cbruun/smsbridge/internal/model"
)

// claimLease bounds how long a dispatch attempt may sit on a claimed
// message before another tick is allowed to pick it up again.
const claimLease = 5 * time.Minute

type PostgresMessageRepo struct {
	db *sql.DB
}

func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

const messageColumns = `
	id, correlation_id, recipient, body, state,
	failure_category, gateway_message_id, last_error,
	created_at, updated_at, sent_at
`

func (r *PostgresMessageRepo) Enqueue(ctx context.Context, recipient, body string) (model.Message, error) {
	correlationID := uuid.NewString()

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (correlation_id, recipient, body, state, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', now(), now())
		RETURNING `+messageColumns, correlationID, recipient, body)

	return scanMessage(row)
}

func (r *PostgresMessageRepo) ClaimPending(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE state = 'pending'
		  AND (claimed_at IS NULL OR claimed_at < now() - $2::interval)
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit, claimLease.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(msgs) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages
			SET claimed_at = now(), updated_at = now()
			WHERE id = $1
		`, m.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *PostgresMessageRepo) MarkSubmitted(ctx context.Context, correlationID, gatewayID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET state = 'submitted',
		    gateway_message_id = $2,
		    failure_category = NULL,
		    last_error = NULL,
		    sent_at = now(),
		    updated_at = now()
		WHERE correlation_id = $1 AND state = 'pending'
	`, correlationID, gatewayID)
	return err
}

func (r *PostgresMessageRepo) MarkFailed(ctx context.Context, correlationID string, category model.FailureCategory, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET state = 'failed',
		    failure_category = $2,
		    last_error = NULLIF($3, ''),
		    updated_at = now()
		WHERE correlation_id = $1 AND state = 'pending'
	`, correlationID, string(category), reason)
	return err
}

func (r *PostgresMessageRepo) FindByGatewayID(ctx context.Context, gatewayID string) (model.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE gateway_message_id = $1
	`, gatewayID)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, ErrNotFound
	}
	return m, err
}

// ApplyDelivery encodes the terminal-state policy in the WHERE clause:
// non-terminal rows take the new state, delivered rows only accept a
// downgrade to failed, failed rows never change, and an identical state
// plus category is a no-op. That makes concurrent and duplicate delivery
// reports safe without a surrounding transaction.
func (r *PostgresMessageRepo) ApplyDelivery(ctx context.Context, gatewayID string, state model.State, category *model.FailureCategory, errText string) (bool, error) {
	var cat sql.NullString
	if category != nil {
		cat = sql.NullString{String: string(*category), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET state = $2,
		    failure_category = $3,
		    last_error = NULLIF($4, ''),
		    updated_at = now()
		WHERE gateway_message_id = $1
		  AND (state NOT IN ('delivered', 'failed')
		       OR (state = 'delivered' AND $2 = 'failed'))
		  AND (state <> $2 OR failure_category IS DISTINCT FROM $3)
	`, gatewayID, string(state), cat, errText)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresMessageRepo) ListByState(ctx context.Context, state model.State, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE state = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, string(state), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (model.Message, error) {
	var (
		m         model.Message
		state     string
		category  sql.NullString
		gatewayID sql.NullString
		lastErr   sql.NullString
		sentAt    sql.NullTime
	)

	if err := row.Scan(
		&m.ID,
		&m.CorrelationID,
		&m.Recipient,
		&m.Body,
		&state,
		&category,
		&gatewayID,
		&lastErr,
		&m.CreatedAt,
		&m.UpdatedAt,
		&sentAt,
	); err != nil {
		return model.Message{}, err
	}

	m.State = model.State(state)
	if category.Valid {
		c := model.FailureCategory(category.String)
		m.FailureCategory = &c
	}
	if gatewayID.Valid {
		s := gatewayID.String
		m.GatewayID = &s
	}
	if lastErr.Valid {
		s := lastErr.String
		m.LastError = &s
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return m, nil
}
