package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/afikmenashe/orderflow-pipeline/pkg/events"
	"github.com/afikmenashe/orderflow-pipeline/services/storage-writer/internal/projection"
)

func TestNewDB(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{
			name:    "invalid DSN",
			dsn:     "invalid-dsn",
			wantErr: true,
		},
		{
			name:    "empty DSN",
			dsn:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := NewDB(tt.dsn)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewDB() error = %v, wantErr %v", err, tt.wantErr)
			}
			if db != nil {
				db.Close()
			}
		})
	}
}

func TestDB_Close(t *testing.T) {
	db := &DB{conn: nil}
	if err := db.Close(); err != nil {
		t.Errorf("DB.Close() with nil conn should not return error, got %v", err)
	}
}

func TestDB_EnsureSchema(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer conn.Close()
	d := &DB{conn: conn}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := d.EnsureSchema(context.Background()); err != nil {
		t.Errorf("EnsureSchema() error = %v", err)
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").WillReturnError(sql.ErrConnDone)
	if err := d.EnsureSchema(context.Background()); err == nil {
		t.Error("EnsureSchema() expected error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Mock expectations were not met: %v", err)
	}
}

func filledEvent() *events.NormalizedEvent {
	return &events.NormalizedEvent{
		EventID:              "sigF:0:1",
		EventKind:            events.KindFilled,
		Network:              "localnet",
		Sequence:             18446744073709551615,
		TransactionSignature: "sigF",
		ContractID:           "escrow",
		OfferID:              "42",
		Maker:                "makerA",
		Taker:                events.StringPtr("takerB"),
		AssetA:               "mintA",
		AssetB:               "mintB",
		AmountA:              "18446744073709551615",
		AmountB:              "200",
		CommitmentLevel:      "finalized",
		IngestedAtMs:         1,
	}
}

func TestDB_ApplyEvent(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer conn.Close()
	d := &DB{conn: conn}
	ctx := context.Background()

	const maxSeq = "18446744073709551615"

	tests := []struct {
		name      string
		setupMock func()
		want      ApplyResult
		wantErr   bool
	}{
		{
			name: "new event applied",
			setupMock: func() {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO events").
					WithArgs("sigF:0:1", "Filled", "sigF", maxSeq, "42", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO offers").
					WithArgs("42", "filled", "makerA", "takerB", "mintA", "mintB", maxSeq, "200", maxSeq).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("UPDATE offers SET created_sequence").
					WithArgs("42", maxSeq).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			want: ApplyResult{AuditInserted: true, ProjectionApplied: true},
		},
		{
			name: "redelivery is a no-op",
			setupMock: func() {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO offers").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("UPDATE offers SET created_sequence").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
			want: ApplyResult{},
		},
		{
			name: "older event only lowers created_sequence",
			setupMock: func() {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO offers").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("UPDATE offers SET created_sequence").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			want: ApplyResult{AuditInserted: true, ProjectionApplied: true},
		},
		{
			name: "audit insert fails",
			setupMock: func() {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO events").WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			wantErr: true,
		},
		{
			name: "upsert fails",
			setupMock: func() {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO offers").WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			wantErr: true,
		},
		{
			name: "commit fails",
			setupMock: func() {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO offers").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("UPDATE offers SET created_sequence").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit().WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
		{
			name: "begin fails",
			setupMock: func() {
				mock.ExpectBegin().WillReturnError(sql.ErrConnDone)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupMock()
			got, err := d.ApplyEvent(ctx, filledEvent())
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplyEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ApplyEvent() = %+v, want %+v", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Mock expectations were not met: %v", err)
			}
		})
	}
}

func TestDB_ApplyEvent_InvalidAmount(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer conn.Close()
	d := &DB{conn: conn}

	ev := filledEvent()
	ev.AmountB = "-5"
	if _, err := d.ApplyEvent(context.Background(), ev); !errors.Is(err, events.ErrDecode) {
		t.Errorf("ApplyEvent() error = %v, want ErrDecode", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Mock expectations were not met: %v", err)
	}
}

func TestDB_GetOffer(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock: %v", err)
	}
	defer conn.Close()
	d := &DB{conn: conn}
	ctx := context.Background()

	columns := []string{"offer_id", "status", "maker", "taker", "asset_a", "asset_b",
		"amount_a", "amount_b", "created_sequence", "updated_sequence"}

	mock.ExpectQuery("SELECT offer_id, status").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("42", "filled", "makerA", "takerB", "mintA", "mintB", "100", "200", "10", "15"))

	offer, err := d.GetOffer(ctx, "42")
	if err != nil {
		t.Fatalf("GetOffer() error = %v", err)
	}
	if offer.Status != projection.StatusFilled || offer.CreatedSequence != 10 || offer.UpdatedSequence != 15 {
		t.Errorf("GetOffer() = %+v", offer)
	}
	if offer.Taker == nil || *offer.Taker != "takerB" {
		t.Errorf("GetOffer() taker = %v, want takerB", offer.Taker)
	}

	mock.ExpectQuery("SELECT offer_id, status").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	if _, err := d.GetOffer(ctx, "missing"); !errors.Is(err, ErrOfferNotFound) {
		t.Errorf("GetOffer(missing) error = %v, want ErrOfferNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Mock expectations were not met: %v", err)
	}
}

func TestUpsertOfferQuery_Guard(t *testing.T) {
	for _, clause := range []string{
		"WHERE offers.updated_sequence < EXCLUDED.updated_sequence",
		"OR (offers.updated_sequence = EXCLUDED.updated_sequence",
		"created_sequence = LEAST(offers.created_sequence, EXCLUDED.created_sequence)",
		"WHEN 'filled' THEN 2 WHEN 'cancelled' THEN 1 ELSE 0",
	} {
		if !strings.Contains(upsertOfferQuery, clause) {
			t.Errorf("upsertOfferQuery missing %q", clause)
		}
	}
	// Same ordering as the Go fold.
	if projection.StatusFilled.Rank() != 2 || projection.StatusCancelled.Rank() != 1 || projection.StatusCreated.Rank() != 0 {
		t.Error("status ranks differ from the SQL CASE")
	}
}
