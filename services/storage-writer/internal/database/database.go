// Package database persists offer events into the audit log and the offers projection.
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	"github.com/afikmenashe/orderflow-pipeline/services/storage-writer/internal/projection"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// ErrOfferNotFound is returned by GetOffer for an offer with no projection row.
var ErrOfferNotFound = errors.New("offer not found")

// ApplyResult reports what ApplyEvent changed.
type ApplyResult struct {
	AuditInserted     bool
	ProjectionApplied bool
}

// DB wraps a database connection and provides event persistence operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL database")

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing database connection")
		return db.conn.Close()
	}
	return nil
}

// EnsureSchema creates the events and offers tables if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const insertEventQuery = `
	INSERT INTO events (event_id, event_kind, transaction_signature, sequence, offer_id, payload)
	VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	ON CONFLICT (event_id) DO NOTHING
`

// upsertOfferQuery overwrites a row only for a higher sequence, or an equal sequence with a
// higher status rank, so a same-sequence redelivery is a no-op and the final row does not
// depend on arrival order. created_sequence keeps the lowest sequence seen.
const upsertOfferQuery = `
	INSERT INTO offers (offer_id, status, maker, taker, asset_a, asset_b, amount_a, amount_b,
	                    created_sequence, updated_sequence)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	ON CONFLICT (offer_id) DO UPDATE SET
		status           = EXCLUDED.status,
		maker            = EXCLUDED.maker,
		taker            = EXCLUDED.taker,
		asset_a          = EXCLUDED.asset_a,
		asset_b          = EXCLUDED.asset_b,
		amount_a         = EXCLUDED.amount_a,
		amount_b         = EXCLUDED.amount_b,
		created_sequence = LEAST(offers.created_sequence, EXCLUDED.created_sequence),
		updated_sequence = EXCLUDED.updated_sequence,
		updated_at       = NOW()
	WHERE offers.updated_sequence < EXCLUDED.updated_sequence
	   OR (offers.updated_sequence = EXCLUDED.updated_sequence
	       AND (CASE EXCLUDED.status WHEN 'filled' THEN 2 WHEN 'cancelled' THEN 1 ELSE 0 END)
	         > (CASE offers.status WHEN 'filled' THEN 2 WHEN 'cancelled' THEN 1 ELSE 0 END))
`

const lowerCreatedQuery = `
	UPDATE offers SET created_sequence = $2
	WHERE offer_id = $1 AND created_sequence > $2
`

// ApplyEvent records ev in the audit log and folds it into the offers projection in one
// transaction. Applying the same event again changes nothing.
func (db *DB) ApplyEvent(ctx context.Context, ev *events.NormalizedEvent) (ApplyResult, error) {
	var result ApplyResult

	payload, err := events.EncodeNormalizedEvent(ev)
	if err != nil {
		return result, err
	}
	amountA, ok := events.ParseAmount(ev.AmountA)
	if !ok {
		return result, fmt.Errorf("%w: amount_a %q", events.ErrDecode, ev.AmountA)
	}
	amountB, ok := events.ParseAmount(ev.AmountB)
	if !ok {
		return result, fmt.Errorf("%w: amount_b %q", events.ErrDecode, ev.AmountB)
	}
	sequence := strconv.FormatUint(ev.Sequence, 10)
	status, taker := projection.Derive(ev.EventKind, ev.Taker)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertEventQuery,
		ev.EventID,
		string(ev.EventKind),
		ev.TransactionSignature,
		sequence,
		ev.OfferID,
		string(payload),
	)
	if err != nil {
		return result, fmt.Errorf("failed to insert event: %w", err)
	}
	result.AuditInserted = affected(res)

	res, err = tx.ExecContext(ctx, upsertOfferQuery,
		ev.OfferID,
		string(status),
		ev.Maker,
		nullString(taker),
		ev.AssetA,
		ev.AssetB,
		strconv.FormatUint(amountA, 10),
		strconv.FormatUint(amountB, 10),
		sequence,
	)
	if err != nil {
		return result, fmt.Errorf("failed to upsert offer: %w", err)
	}
	result.ProjectionApplied = affected(res)

	res, err = tx.ExecContext(ctx, lowerCreatedQuery, ev.OfferID, sequence)
	if err != nil {
		return result, fmt.Errorf("failed to update created sequence: %w", err)
	}
	if affected(res) {
		result.ProjectionApplied = true
	}

	if err := tx.Commit(); err != nil {
		return ApplyResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Debug("Applied event",
		"event_id", ev.EventID,
		"offer_id", ev.OfferID,
		"audit_inserted", result.AuditInserted,
		"projection_applied", result.ProjectionApplied,
	)
	return result, nil
}

// GetOffer returns the projection row for offerID.
func (db *DB) GetOffer(ctx context.Context, offerID string) (*projection.Offer, error) {
	query := `
		SELECT offer_id, status, maker, taker, asset_a, asset_b,
		       amount_a::text, amount_b::text, created_sequence::text, updated_sequence::text
		FROM offers
		WHERE offer_id = $1
	`

	var (
		offer            projection.Offer
		status           string
		taker            sql.NullString
		created, updated string
	)
	err := db.conn.QueryRowContext(ctx, query, offerID).Scan(
		&offer.OfferID,
		&status,
		&offer.Maker,
		&taker,
		&offer.AssetA,
		&offer.AssetB,
		&offer.AmountA,
		&offer.AmountB,
		&created,
		&updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}

	offer.Status = projection.Status(status)
	if taker.Valid {
		offer.Taker = &taker.String
	}
	if offer.CreatedSequence, err = strconv.ParseUint(created, 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse created_sequence %q: %w", created, err)
	}
	if offer.UpdatedSequence, err = strconv.ParseUint(updated, 10, 64); err != nil {
		return nil, fmt.Errorf("failed to parse updated_sequence %q: %w", updated, err)
	}
	return &offer, nil
}

// CountEvents returns the number of audit rows for offerID.
func (db *DB) CountEvents(ctx context.Context, offerID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE offer_id = $1`, offerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func affected(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n > 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
