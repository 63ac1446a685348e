// Package certificate is the pure read path over registry state: certificate
// checks, identity status lookups, and signed status attestations for relying
// parties. Nothing here mutates registry records.
package certificate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"conubium/internal/registry/models"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
	"conubium/pkg/platform/sentinel"
	"conubium/pkg/requestcontext"
)

// defaultAttestationTTL bounds how long a relying party may lean on one
// signed attestation before re-querying.
const defaultAttestationTTL = 10 * time.Minute

type MarriageReader interface {
	FindMarriage(ctx context.Context, marriageID domain.MarriageID) (*models.Marriage, error)
}

type IdentityReader interface {
	ActiveMarriageOf(ctx context.Context, party domain.Identity) (domain.MarriageID, error)
}

// StatusCache is the read-through lookaside for derived statuses. The
// registry service invalidates it on lifecycle writes.
type StatusCache interface {
	Get(ctx context.Context, party domain.Identity) (*models.IdentityStatus, error)
	Set(ctx context.Context, party domain.Identity, status models.IdentityStatus) error
}

// AttestationSigner signs status assertions for relying parties.
type AttestationSigner interface {
	IssueStatusAttestation(identity string, isMarried bool, marriageID string, expiresIn time.Duration) (string, error)
}

// Service answers certificate and status queries. Absence and mismatch are
// plain negative answers, not errors; nothing about a record leaks on the
// false path.
type Service struct {
	marriages      MarriageReader
	index          IdentityReader
	logger         *slog.Logger
	cache          StatusCache
	signer         AttestationSigner
	attestationTTL time.Duration
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithCache(cache StatusCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithSigner(signer AttestationSigner) Option {
	return func(s *Service) {
		s.signer = signer
	}
}

func WithAttestationTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.attestationTTL = ttl
	}
}

// New constructs a Service.
func New(marriages MarriageReader, index IdentityReader, opts ...Option) *Service {
	s := &Service{marriages: marriages, index: index, attestationTTL: defaultAttestationTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyCertificate reports whether the marriage is active, requester is one
// of its spouses, and certificateHash matches the stored commitment. A
// missing marriage is simply false.
func (s *Service) VerifyCertificate(ctx context.Context, marriageID domain.MarriageID, certificateHash domain.Hash32, requester domain.Identity) (bool, error) {
	start := time.Now()
	defer observeCertificateCheck(start)

	m, err := s.marriages.FindMarriage(ctx, marriageID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			countCertificateCheck(false)
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load marriage")
	}

	ok := m.IsActive && m.HasSpouse(requester) && m.CertificateHash == certificateHash
	countCertificateCheck(ok)
	return ok, nil
}

// StatusByIdentity resolves the derived civil status of one identity through
// the cache, falling back to the index and marriage record. Unmarried
// identities yield the zero status.
func (s *Service) StatusByIdentity(ctx context.Context, party domain.Identity) (models.IdentityStatus, error) {
	if cached := s.cachedStatus(ctx, party); cached != nil {
		return *cached, nil
	}

	marriageID, err := s.index.ActiveMarriageOf(ctx, party)
	if errors.Is(err, sentinel.ErrNotFound) {
		status := models.IdentityStatus{}
		s.storeStatus(ctx, party, status)
		return status, nil
	}
	if err != nil {
		return models.IdentityStatus{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check marriage index")
	}

	m, err := s.marriages.FindMarriage(ctx, marriageID)
	if err != nil {
		return models.IdentityStatus{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load marriage")
	}
	status := models.StatusOf(m)
	s.storeStatus(ctx, party, status)
	return status, nil
}

// IssueAttestation resolves the identity's status and returns it alongside a
// signed short-lived token asserting it.
func (s *Service) IssueAttestation(ctx context.Context, party domain.Identity) (string, models.IdentityStatus, error) {
	status, err := s.StatusByIdentity(ctx, party)
	if err != nil {
		return "", models.IdentityStatus{}, err
	}
	if s.signer == nil {
		return "", models.IdentityStatus{}, dErrors.New(dErrors.CodeUnavailable, "attestation signing is not configured")
	}

	marriageID := ""
	if status.IsMarried {
		marriageID = status.MarriageID.String()
	}
	token, err := s.signer.IssueStatusAttestation(party.String(), status.IsMarried, marriageID, s.attestationTTL)
	if err != nil {
		return "", models.IdentityStatus{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign attestation")
	}

	countAttestationIssued()
	s.logAudit(ctx, "status_attestation_issued", "is_married", status.IsMarried)
	return token, status, nil
}

func (s *Service) cachedStatus(ctx context.Context, party domain.Identity) *models.IdentityStatus {
	if s.cache == nil {
		return nil
	}
	status, err := s.cache.Get(ctx, party)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "status cache read failed", "error", err)
		}
		return nil
	}
	if status == nil {
		countStatusCacheMiss()
		return nil
	}
	countStatusCacheHit()
	return status
}

func (s *Service) storeStatus(ctx context.Context, party domain.Identity, status models.IdentityStatus) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, party, status); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "status cache write failed", "error", err)
	}
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}
