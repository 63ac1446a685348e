package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"conubium/internal/registry/models"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
	"conubium/pkg/platform/sentinel"
	txcontext "conubium/pkg/platform/tx"
)

// advisoryLockKey serializes registry writers across all connections. The
// value spells "conubium" in hex; any stable distinct int64 would do.
const advisoryLockKey int64 = 0x636F6E756269756D

// Postgres persists the registry in PostgreSQL. This store is pure I/O; all
// lifecycle rules live in the service. Methods pick up the sql.Tx carried in
// the context by RunInTx, falling back to the pool for standalone reads.
type Postgres struct {
	db      *sql.DB
	timeout time.Duration
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

// RunInTx opens a serializable transaction, takes the registry's advisory
// lock so mutations are single-writer across every instance, and commits only
// if fn succeeds.
func (s *Postgres) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin registry tx: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("acquire registry writer lock: %w", err)
	}

	if err := fn(txcontext.WithTx(ctx, sqlTx)); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit registry tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Postgres) CreateProposal(ctx context.Context, p *models.Proposal) error {
	query := `
		INSERT INTO registry_proposals (id, proposer, proposee, proposal_hash, jurisdiction, created_at, expires_at, accepted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		p.ID.String(), p.Proposer.String(), p.Proposee.String(), p.ProposalHash.String(),
		p.Jurisdiction, p.CreatedAt, p.ExpiresAt, p.Accepted)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create proposal: %w", err)
	}
	return nil
}

func (s *Postgres) FindProposal(ctx context.Context, proposalID domain.ProposalID) (*models.Proposal, error) {
	query := `
		SELECT id, proposer, proposee, proposal_hash, jurisdiction, created_at, expires_at, accepted
		FROM registry_proposals
		WHERE id = $1
	`
	p, err := scanProposal(s.execer(ctx).QueryRowContext(ctx, query, proposalID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find proposal: %w", err)
	}
	return p, nil
}

func (s *Postgres) UpdateProposal(ctx context.Context, p *models.Proposal) error {
	query := `
		UPDATE registry_proposals
		SET accepted = $2
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, p.ID.String(), p.Accepted)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update proposal affected rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateMarriage(ctx context.Context, m *models.Marriage) error {
	query := `
		INSERT INTO registry_marriages (id, spouse1, spouse2, proof1_hash, proof2_hash, certificate_hash, jurisdiction, created_at, dissolved_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		m.ID.String(), m.Spouse1.String(), m.Spouse2.String(),
		m.Proof1Hash.String(), m.Proof2Hash.String(), m.CertificateHash.String(),
		m.Jurisdiction, m.CreatedAt, m.DissolvedAt, m.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create marriage: %w", err)
	}
	return nil
}

func (s *Postgres) FindMarriage(ctx context.Context, marriageID domain.MarriageID) (*models.Marriage, error) {
	query := `
		SELECT id, spouse1, spouse2, proof1_hash, proof2_hash, certificate_hash, jurisdiction, created_at, dissolved_at, is_active
		FROM registry_marriages
		WHERE id = $1
	`
	m, err := scanMarriage(s.execer(ctx).QueryRowContext(ctx, query, marriageID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find marriage: %w", err)
	}
	return m, nil
}

func (s *Postgres) UpdateMarriage(ctx context.Context, m *models.Marriage) error {
	query := `
		UPDATE registry_marriages
		SET dissolved_at = $2, is_active = $3
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, m.ID.String(), m.DissolvedAt, m.IsActive)
	if err != nil {
		return fmt.Errorf("update marriage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update marriage affected rows: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) BindIdentity(ctx context.Context, identity domain.Identity, marriageID domain.MarriageID) error {
	query := `
		INSERT INTO registry_identity_index (identity, marriage_id)
		VALUES ($1, $2)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query, identity.String(), marriageID.String())
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("bind identity: %w", err)
	}
	return nil
}

func (s *Postgres) ReleaseIdentity(ctx context.Context, identity domain.Identity) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM registry_identity_index WHERE identity = $1`, identity.String())
	if err != nil {
		return fmt.Errorf("release identity: %w", err)
	}
	return nil
}

func (s *Postgres) ActiveMarriageOf(ctx context.Context, identity domain.Identity) (domain.MarriageID, error) {
	var raw string
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT marriage_id FROM registry_identity_index WHERE identity = $1`, identity.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.MarriageID{}, sentinel.ErrNotFound
		}
		return domain.MarriageID{}, fmt.Errorf("active marriage of identity: %w", err)
	}
	return domain.ParseMarriageID(raw)
}

func (s *Postgres) MarkConsumed(ctx context.Context, identity domain.Identity) error {
	query := `
		INSERT INTO registry_consumed_identities (identity, consumed_at)
		VALUES ($1, now())
		ON CONFLICT (identity) DO NOTHING
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query, identity.String()); err != nil {
		return fmt.Errorf("mark identity consumed: %w", err)
	}
	return nil
}

func (s *Postgres) IsConsumed(ctx context.Context, identity domain.Identity) (bool, error) {
	var consumed bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM registry_consumed_identities WHERE identity = $1)`,
		identity.String()).Scan(&consumed)
	if err != nil {
		return false, fmt.Errorf("check identity consumed: %w", err)
	}
	return consumed, nil
}

func (s *Postgres) GetConfig(ctx context.Context) (*models.Config, error) {
	query := `
		SELECT membership_root, verifier_endpoint, updated_at
		FROM registry_config
		WHERE singleton
	`
	var (
		cfg     models.Config
		rawRoot string
	)
	err := s.execer(ctx).QueryRowContext(ctx, query).Scan(&rawRoot, &cfg.VerifierEndpoint, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.Config{}, nil
		}
		return nil, fmt.Errorf("get registry config: %w", err)
	}
	root, err := domain.ParseHash32(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("get registry config: malformed root: %w", err)
	}
	cfg.MembershipRoot = root
	return &cfg, nil
}

func (s *Postgres) SetConfig(ctx context.Context, cfg *models.Config) error {
	query := `
		INSERT INTO registry_config (singleton, membership_root, verifier_endpoint, updated_at)
		VALUES (TRUE, $1, $2, $3)
		ON CONFLICT (singleton) DO UPDATE SET
			membership_root = EXCLUDED.membership_root,
			verifier_endpoint = EXCLUDED.verifier_endpoint,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query,
		cfg.MembershipRoot.String(), cfg.VerifierEndpoint, cfg.UpdatedAt); err != nil {
		return fmt.Errorf("set registry config: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*models.Proposal, error) {
	var (
		p                                        models.Proposal
		rawID, rawProposer, rawProposee, rawHash string
	)
	if err := row.Scan(&rawID, &rawProposer, &rawProposee, &rawHash, &p.Jurisdiction,
		&p.CreatedAt, &p.ExpiresAt, &p.Accepted); err != nil {
		return nil, err
	}
	var err error
	if p.ID, err = domain.ParseProposalID(rawID); err != nil {
		return nil, err
	}
	if p.Proposer, err = domain.ParseIdentity(rawProposer); err != nil {
		return nil, err
	}
	if p.Proposee, err = domain.ParseIdentity(rawProposee); err != nil {
		return nil, err
	}
	if p.ProposalHash, err = domain.ParseHash32(rawHash); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanMarriage(row rowScanner) (*models.Marriage, error) {
	var (
		m                             models.Marriage
		rawID, rawSpouse1, rawSpouse2 string
		rawProof1, rawProof2, rawCert string
		dissolvedAt                   sql.NullTime
	)
	if err := row.Scan(&rawID, &rawSpouse1, &rawSpouse2, &rawProof1, &rawProof2, &rawCert,
		&m.Jurisdiction, &m.CreatedAt, &dissolvedAt, &m.IsActive); err != nil {
		return nil, err
	}
	var err error
	if m.ID, err = domain.ParseMarriageID(rawID); err != nil {
		return nil, err
	}
	if m.Spouse1, err = domain.ParseIdentity(rawSpouse1); err != nil {
		return nil, err
	}
	if m.Spouse2, err = domain.ParseIdentity(rawSpouse2); err != nil {
		return nil, err
	}
	if m.Proof1Hash, err = domain.ParseHash32(rawProof1); err != nil {
		return nil, err
	}
	if m.Proof2Hash, err = domain.ParseHash32(rawProof2); err != nil {
		return nil, err
	}
	if m.CertificateHash, err = domain.ParseHash32(rawCert); err != nil {
		return nil, err
	}
	if dissolvedAt.Valid {
		at := dissolvedAt.Time
		m.DissolvedAt = &at
	}
	return &m, nil
}

// EnsureSchema creates the registry tables when they do not exist. Deployments
// that manage migrations externally can skip it.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS registry_proposals (
			id            TEXT PRIMARY KEY,
			proposer      TEXT NOT NULL,
			proposee      TEXT NOT NULL,
			proposal_hash TEXT NOT NULL,
			jurisdiction  TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			expires_at    TIMESTAMPTZ NOT NULL,
			accepted      BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE TABLE IF NOT EXISTS registry_marriages (
			id               TEXT PRIMARY KEY,
			spouse1          TEXT NOT NULL,
			spouse2          TEXT NOT NULL,
			proof1_hash      TEXT NOT NULL,
			proof2_hash      TEXT NOT NULL,
			certificate_hash TEXT NOT NULL,
			jurisdiction     TEXT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL,
			dissolved_at     TIMESTAMPTZ,
			is_active        BOOLEAN NOT NULL
		);
		CREATE TABLE IF NOT EXISTS registry_identity_index (
			identity    TEXT PRIMARY KEY,
			marriage_id TEXT NOT NULL REFERENCES registry_marriages(id)
		);
		CREATE TABLE IF NOT EXISTS registry_consumed_identities (
			identity    TEXT PRIMARY KEY,
			consumed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS registry_config (
			singleton         BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
			membership_root   TEXT NOT NULL,
			verifier_endpoint TEXT NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure registry schema: %w", err)
	}
	return nil
}
