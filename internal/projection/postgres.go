package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const cursorName = "main"

// PostgresStore keeps the projections in the projections schema
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Apply writes one update and the cursor in a single transaction
func (s *PostgresStore) Apply(ctx context.Context, u Update) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if r := u.NewRequest; r != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.requests
				(request_id, kind, holder, user_address, recipient, asset, amount, batch_id, status, submitted_seq, sequence, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $11)
			ON CONFLICT (request_id) DO NOTHING
		`, r.RequestID, r.Kind, r.Holder, r.User, r.Recipient, r.Asset, r.Amount, r.BatchID, r.Status, r.Sequence, r.UpdatedAt); err != nil {
			return fmt.Errorf("request projection: %w", err)
		}
	}

	if c := u.Status; c != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.requests
			SET status = $2, shares = $3, assets = $4, sequence = $5, updated_at = $6
			WHERE request_id = $1 AND sequence < $5
		`, c.RequestID, c.Status, c.Shares, c.Assets, u.Sequence, u.At); err != nil {
			return fmt.Errorf("request status: %w", err)
		}
	}

	if st := u.Settlement; st != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.settlements
				(proposal_id, holder, asset, batch_id, total_assets, share_price, minted, reserved, fees, sequence, settled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (proposal_id) DO NOTHING
		`, st.ProposalID, st.Holder, st.Asset, st.BatchID, st.TotalAssets, st.SharePrice, st.Minted, st.Reserved, st.Fees, st.Sequence, st.SettledAt); err != nil {
			return fmt.Errorf("settlement projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.cursor (name, sequence)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET sequence = GREATEST(projections.cursor.sequence, $2)
	`, cursorName, u.Sequence); err != nil {
		return fmt.Errorf("cursor update: %w", err)
	}

	return tx.Commit()
}

// Cursor returns the last applied sequence, zero before the first update
func (s *PostgresStore) Cursor(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT sequence FROM projections.cursor WHERE name = $1`, cursorName).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// Reset empties every projection table before a rebuild
func (s *PostgresStore) Reset(ctx context.Context) error {
	for _, stmt := range []string{
		`TRUNCATE projections.requests`,
		`TRUNCATE projections.settlements`,
		`DELETE FROM projections.cursor WHERE name = 'main'`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset projections: %w", err)
		}
	}
	return nil
}

const requestColumns = `request_id, kind, holder, user_address, recipient, asset, amount,
	batch_id, status, shares, assets, sequence, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (RequestRow, error) {
	var r RequestRow
	err := row.Scan(&r.RequestID, &r.Kind, &r.Holder, &r.User, &r.Recipient, &r.Asset, &r.Amount,
		&r.BatchID, &r.Status, &r.Shares, &r.Assets, &r.Sequence, &r.UpdatedAt)
	return r, err
}

func (s *PostgresStore) Request(ctx context.Context, id string) (*RequestRow, error) {
	r, err := scanRequest(s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM projections.requests WHERE request_id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) UserRequests(ctx context.Context, user string, limit int) ([]RequestRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM projections.requests
		WHERE user_address = $1
		ORDER BY submitted_seq DESC
		LIMIT $2
	`, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]RequestRow, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Settlements(ctx context.Context, holder string, limit int) ([]SettlementRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_id, holder, asset, batch_id, total_assets, share_price,
		       minted, reserved, fees, sequence, settled_at
		FROM projections.settlements
		WHERE holder = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, holder, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]SettlementRow, 0)
	for rows.Next() {
		var st SettlementRow
		if err := rows.Scan(&st.ProposalID, &st.Holder, &st.Asset, &st.BatchID, &st.TotalAssets, &st.SharePrice,
			&st.Minted, &st.Reserved, &st.Fees, &st.Sequence, &st.SettledAt); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}
