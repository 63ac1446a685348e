package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	contracts "conubium/contracts/registry"
	"conubium/pkg/platform/sentinel"
	txcontext "conubium/pkg/platform/tx"
)

// Postgres persists events in an outbox-shaped table: appends join the
// caller's transaction via the context, the relay drains rows where
// published_at is null.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) execer(ctx context.Context) dbtx {
	if sqlTx, ok := txcontext.From(ctx); ok {
		return sqlTx
	}
	return s.db
}

func (s *Postgres) Append(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("marshal event attributes: %w", err)
	}
	query := `
		INSERT INTO ledger_events (id, kind, occurred_at, jurisdiction, attributes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`
	if err := s.execer(ctx).QueryRowContext(ctx, query,
		e.ID, string(e.Kind), e.OccurredAt, e.Jurisdiction, attrs).Scan(&e.Seq); err != nil {
		return fmt.Errorf("append ledger event: %w", err)
	}
	return nil
}

const eventColumns = `seq, id, kind, occurred_at, jurisdiction, attributes, published_at`

func (s *Postgres) FindByID(ctx context.Context, eventID uuid.UUID) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM ledger_events WHERE id = $1`
	e, err := scanEvent(s.execer(ctx).QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find ledger event: %w", err)
	}
	return e, nil
}

func (s *Postgres) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM ledger_events ORDER BY seq DESC LIMIT $1`
	return s.queryEvents(ctx, query, limit)
}

func (s *Postgres) ListAll(ctx context.Context) ([]Event, error) {
	query := `SELECT ` + eventColumns + ` FROM ledger_events ORDER BY seq ASC`
	return s.queryEvents(ctx, query)
}

func (s *Postgres) ListUnpublished(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM ledger_events
		WHERE published_at IS NULL
		ORDER BY seq ASC
		LIMIT $1
	`
	return s.queryEvents(ctx, query, limit)
}

func (s *Postgres) MarkPublished(ctx context.Context, at time.Time, eventIDs ...uuid.UUID) error {
	query := `UPDATE ledger_events SET published_at = $2 WHERE id = $1 AND published_at IS NULL`
	for _, eventID := range eventIDs {
		if _, err := s.execer(ctx).ExecContext(ctx, query, eventID, at); err != nil {
			return fmt.Errorf("mark event published: %w", err)
		}
	}
	return nil
}

func (s *Postgres) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e           Event
		kind        string
		attrs       []byte
		publishedAt sql.NullTime
	)
	if err := row.Scan(&e.Seq, &e.ID, &kind, &e.OccurredAt, &e.Jurisdiction, &attrs, &publishedAt); err != nil {
		return nil, err
	}
	e.Kind = contracts.EventKind(kind)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal event attributes: %w", err)
		}
	}
	if publishedAt.Valid {
		at := publishedAt.Time
		e.PublishedAt = &at
	}
	return &e, nil
}

// EnsureSchema creates the ledger table when it does not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS ledger_events (
			seq          BIGSERIAL PRIMARY KEY,
			id           UUID NOT NULL UNIQUE,
			kind         TEXT NOT NULL,
			occurred_at  TIMESTAMPTZ NOT NULL,
			jurisdiction TEXT NOT NULL DEFAULT '',
			attributes   JSONB NOT NULL DEFAULT '{}'::jsonb,
			published_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS ledger_events_unpublished_idx
			ON ledger_events (seq) WHERE published_at IS NULL;
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}
