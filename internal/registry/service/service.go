package service

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contracts "conubium/contracts/registry"
	"conubium/internal/identity"
	"conubium/internal/ledger"
	"conubium/internal/merkle"
	"conubium/internal/registry/metrics"
	"conubium/internal/registry/models"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
	"conubium/pkg/platform/sentinel"
	"conubium/pkg/requestcontext"
)

var tracer = otel.Tracer("conubium/internal/registry/service")

type ProposalStore interface {
	CreateProposal(ctx context.Context, p *models.Proposal) error
	FindProposal(ctx context.Context, proposalID domain.ProposalID) (*models.Proposal, error)
	UpdateProposal(ctx context.Context, p *models.Proposal) error
}

type MarriageStore interface {
	CreateMarriage(ctx context.Context, m *models.Marriage) error
	FindMarriage(ctx context.Context, marriageID domain.MarriageID) (*models.Marriage, error)
	UpdateMarriage(ctx context.Context, m *models.Marriage) error
}

type IdentityIndex interface {
	BindIdentity(ctx context.Context, party domain.Identity, marriageID domain.MarriageID) error
	ReleaseIdentity(ctx context.Context, party domain.Identity) error
	ActiveMarriageOf(ctx context.Context, party domain.Identity) (domain.MarriageID, error)
	MarkConsumed(ctx context.Context, party domain.Identity) error
	IsConsumed(ctx context.Context, party domain.Identity) (bool, error)
}

type ConfigStore interface {
	GetConfig(ctx context.Context) (*models.Config, error)
	SetConfig(ctx context.Context, cfg *models.Config) error
}

type TxRunner interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// Store is the full persistence surface the registry consumes.
type Store interface {
	ProposalStore
	MarriageStore
	IdentityIndex
	ConfigStore
	TxRunner
}

// EventRecorder appends public ledger events. A recording failure aborts the
// surrounding transaction: no state change commits without its event.
type EventRecorder interface {
	Record(ctx context.Context, e *ledger.Event) error
}

// StatusCache invalidates derived identity-status entries after lifecycle
// writes. Failures are logged and swallowed; the cache is an optimization.
type StatusCache interface {
	Invalidate(ctx context.Context, identities ...domain.Identity) error
}

// MarriageIDDeriver computes the marriage identifier for an accepted pair.
// Implementations must be pure and collision-resistant.
type MarriageIDDeriver func(a, b domain.Identity, acceptedAt time.Time, jurisdiction string) domain.MarriageID

// Service is the single writer over registry state. Every lifecycle mutation
// runs its checks and writes inside one store transaction, with the ledger
// event recorded last, so nothing is ever published for state that did not
// commit.
type Service struct {
	store    Store
	binding  identity.Binding
	policy   models.ConsumedPolicy
	deriveID MarriageIDDeriver
	logger   *slog.Logger
	recorder EventRecorder
	metrics  *metrics.Metrics
	cache    StatusCache
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithRecorder(recorder EventRecorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCache(cache StatusCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithMarriageIDDeriver replaces the default marriage-id derivation.
func WithMarriageIDDeriver(derive MarriageIDDeriver) Option {
	return func(s *Service) {
		s.deriveID = derive
	}
}

// New constructs a Service.
func New(store Store, binding identity.Binding, policy models.ConsumedPolicy, opts ...Option) *Service {
	s := &Service{store: store, binding: binding, policy: policy, deriveID: DeriveMarriageID}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultPolicy returns the consumed-set policy a binding mode implies when
// none is configured: address binding releases identities on dissolution,
// nullifier binding keeps the once-only rule.
func DefaultPolicy(mode identity.Mode) models.ConsumedPolicy {
	if mode == identity.ModeNullifier {
		return models.ConsumedPolicyMonotonic
	}
	return models.ConsumedPolicyRelease
}

// BindingMode reports the active identity binding variant.
func (s *Service) BindingMode() identity.Mode { return s.binding.Mode() }

// Policy reports the configured consumed-set policy.
func (s *Service) Policy() models.ConsumedPolicy { return s.policy }

// CreateProposalRequest carries everything needed to open a proposal. The
// caller chooses ProposalID; retrying with the same ID is a duplicate, not an
// idempotent replay.
type CreateProposalRequest struct {
	ProposalID   domain.ProposalID
	Proposer     domain.Identity
	Proposee     domain.Identity
	ProposalHash domain.Hash32
	ExpiresAt    time.Time
	Jurisdiction string
	Evidence     identity.Evidence
}

// CreateProposal opens a pending proposal after proving the proposer's
// authorship and eligibility. Both parties must be unmarried at this point;
// the same checks run again at acceptance.
func (s *Service) CreateProposal(ctx context.Context, req CreateProposalRequest) (*models.Proposal, error) {
	start := time.Now()
	defer s.observeCreateProposal(start)

	ctx, span := tracer.Start(ctx, "registry.CreateProposal", trace.WithAttributes(
		attribute.String("proposal.id", req.ProposalID.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)

	// Use constructor which validates invariants
	proposal, err := models.NewProposal(req.ProposalID, req.Proposer, req.Proposee,
		req.ProposalHash, req.Jurisdiction, now, req.ExpiresAt)
	if err != nil {
		// Convert invariant violations to validation errors for API response
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, failSpan(span, dErrors.New(dErrors.CodeValidation, err.Error()))
		}
		return nil, failSpan(span, err)
	}

	err = s.store.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.store.FindProposal(txCtx, proposal.ID); err == nil {
			return dErrors.New(dErrors.CodeDuplicateProposal, "proposal id already exists")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check proposal id")
		}

		if err := s.requireUnmarried(txCtx, "proposer", proposal.Proposer); err != nil {
			return err
		}
		if err := s.requireUnmarried(txCtx, "proposee", proposal.Proposee); err != nil {
			return err
		}

		if err := s.binding.Validate(txCtx, proposal.Proposer, req.Evidence); err != nil {
			return s.noteProofRejection(err)
		}

		if err := s.store.CreateProposal(txCtx, proposal); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeDuplicateProposal, "proposal id already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create proposal")
		}

		return s.record(txCtx, contracts.EventProposalCreated, proposal.Jurisdiction, now, map[string]string{
			"proposal_id": proposal.ID.String(),
			"proposer":    proposal.Proposer.String(),
			"proposee":    proposal.Proposee.String(),
		})
	})
	if err != nil {
		return nil, failSpan(span, err)
	}

	s.incrementProposalsCreated()
	s.logAudit(ctx, "proposal_created",
		"proposal_id", proposal.ID,
		"expires_at", proposal.ExpiresAt)
	return proposal, nil
}

// AcceptProposal turns a pending proposal into an active marriage. The
// acceptor never states an identity: it is derived from the evidence and must
// match the proposal's proposee. A zero certificateHash asks the registry to
// derive one.
func (s *Service) AcceptProposal(ctx context.Context, proposalID domain.ProposalID, ev identity.Evidence, certificateHash domain.Hash32) (*models.Marriage, error) {
	start := time.Now()
	defer s.observeAcceptProposal(start)

	ctx, span := tracer.Start(ctx, "registry.AcceptProposal", trace.WithAttributes(
		attribute.String("proposal.id", proposalID.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	var marriage *models.Marriage

	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		proposal, err := s.store.FindProposal(txCtx, proposalID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeProposalNotFound, "proposal not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proposal")
		}
		if err := proposal.CanAccept(now); err != nil {
			return err
		}

		derived, err := s.binding.Derive(ev)
		if err != nil {
			return s.noteProofRejection(err)
		}
		if derived != proposal.Proposee {
			return s.noteProofRejection(dErrors.New(dErrors.CodeNotAuthorized, "evidence does not belong to the proposee"))
		}
		if err := s.binding.Validate(txCtx, proposal.Proposee, ev); err != nil {
			return s.noteProofRejection(err)
		}

		// Conditions can change between proposal and acceptance, so both
		// parties are re-checked here.
		if err := s.requireUnmarried(txCtx, "proposer", proposal.Proposer); err != nil {
			return err
		}
		if err := s.requireUnmarried(txCtx, "proposee", proposal.Proposee); err != nil {
			return err
		}

		proposal.ApplyAcceptance()

		marriageID := s.deriveID(proposal.Proposer, proposal.Proposee, now, proposal.Jurisdiction)
		certHash := certificateHash
		if certHash.IsZero() {
			certHash = DeriveCertificateHash(marriageID, proposal.Proposer, proposal.Proposee, now)
		}
		marriage, err = models.NewMarriage(marriageID, proposal.Proposer, proposal.Proposee,
			proposal.ProposalHash, ev.Digest(), certHash, proposal.Jurisdiction, now)
		if err != nil {
			return err
		}

		if err := s.store.UpdateProposal(txCtx, proposal); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update proposal")
		}
		if err := s.store.CreateMarriage(txCtx, marriage); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "marriage id already exists")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create marriage")
		}
		for _, spouse := range []domain.Identity{marriage.Spouse1, marriage.Spouse2} {
			if err := s.store.BindIdentity(txCtx, spouse, marriage.ID); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					return dErrors.New(dErrors.CodeIdentityAlreadyMarried, "identity is already in an active marriage")
				}
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to bind identity to marriage")
			}
			if err := s.store.MarkConsumed(txCtx, spouse); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark identity consumed")
			}
		}

		return s.record(txCtx, contracts.EventMarriageCreated, marriage.Jurisdiction, now, map[string]string{
			"marriage_id": marriage.ID.String(),
			"proposal_id": proposal.ID.String(),
			"spouse1":     marriage.Spouse1.String(),
			"spouse2":     marriage.Spouse2.String(),
		})
	})
	if err != nil {
		return nil, failSpan(span, err)
	}

	s.incrementMarriagesCreated()
	s.invalidateStatus(ctx, marriage.Spouse1, marriage.Spouse2)
	s.logAudit(ctx, "marriage_created",
		"marriage_id", marriage.ID,
		"proposal_id", proposalID)
	return marriage, nil
}

// RequestDivorce dissolves an active marriage. Either spouse can request it;
// authorship is proven by evidence derivation alone, with no eligibility
// check. Dissolution always clears the identity index, so remarriage after
// divorce is governed purely by the consumed-set policy.
func (s *Service) RequestDivorce(ctx context.Context, marriageID domain.MarriageID, ev identity.Evidence) (*models.Marriage, error) {
	start := time.Now()
	defer s.observeRequestDivorce(start)

	ctx, span := tracer.Start(ctx, "registry.RequestDivorce", trace.WithAttributes(
		attribute.String("marriage.id", marriageID.String()),
	))
	defer span.End()

	now := requestcontext.Now(ctx)
	var marriage *models.Marriage
	var requester domain.Identity

	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		marriage, err = s.store.FindMarriage(txCtx, marriageID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeMarriageNotFound, "marriage not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load marriage")
		}
		if err := marriage.CanDissolve(); err != nil {
			return err
		}

		requester, err = s.binding.Derive(ev)
		if err != nil {
			return s.noteProofRejection(dErrors.Wrap(err, dErrors.CodeNotAuthorized, "evidence does not identify a spouse"))
		}
		if !marriage.HasSpouse(requester) {
			return s.noteProofRejection(dErrors.New(dErrors.CodeNotAuthorized, "requester is not a spouse of this marriage"))
		}

		marriage.ApplyDissolution(now)
		if err := s.store.UpdateMarriage(txCtx, marriage); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update marriage")
		}
		for _, spouse := range []domain.Identity{marriage.Spouse1, marriage.Spouse2} {
			if err := s.store.ReleaseIdentity(txCtx, spouse); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release identity")
			}
		}

		if err := s.record(txCtx, contracts.EventDivorceRequested, marriage.Jurisdiction, now, map[string]string{
			"marriage_id": marriage.ID.String(),
			"identity":    requester.String(),
		}); err != nil {
			return err
		}
		return s.record(txCtx, contracts.EventMarriageDissolved, marriage.Jurisdiction, now, map[string]string{
			"marriage_id": marriage.ID.String(),
			"spouse1":     marriage.Spouse1.String(),
			"spouse2":     marriage.Spouse2.String(),
		})
	})
	if err != nil {
		return nil, failSpan(span, err)
	}

	s.incrementMarriagesDissolved()
	s.invalidateStatus(ctx, marriage.Spouse1, marriage.Spouse2)
	s.logAudit(ctx, "marriage_dissolved",
		"marriage_id", marriage.ID)
	return marriage, nil
}

// GetProposal returns a proposal by id. Expiry is derived at read time by the
// caller via Status; nothing here mutates the record.
func (s *Service) GetProposal(ctx context.Context, proposalID domain.ProposalID) (*models.Proposal, error) {
	p, err := s.store.FindProposal(ctx, proposalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeProposalNotFound, "proposal not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load proposal")
	}
	return p, nil
}

// GetMarriage returns a marriage record by id, active or dissolved.
func (s *Service) GetMarriage(ctx context.Context, marriageID domain.MarriageID) (*models.Marriage, error) {
	m, err := s.store.FindMarriage(ctx, marriageID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeMarriageNotFound, "marriage not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load marriage")
	}
	return m, nil
}

// UpdateRoot replaces the roster membership root used by address binding.
// The new root takes effect on the next validation.
func (s *Service) UpdateRoot(ctx context.Context, root domain.Hash32) (*models.Config, error) {
	cfg, err := s.updateConfig(ctx, func(cfg *models.Config) map[string]string {
		cfg.MembershipRoot = root
		return map[string]string{"field": "membership_root", "root": root.String()}
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "membership_root_updated", "root", root)
	return cfg, nil
}

// UpdateVerifier replaces the identity proof verifier endpoint used by
// nullifier binding. An empty endpoint clears it.
func (s *Service) UpdateVerifier(ctx context.Context, endpoint string) (*models.Config, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint != "" {
		u, err := url.Parse(endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "verifier endpoint must be an http(s) URL")
		}
	}
	cfg, err := s.updateConfig(ctx, func(cfg *models.Config) map[string]string {
		cfg.VerifierEndpoint = endpoint
		return map[string]string{"field": "verifier_endpoint", "endpoint": endpoint}
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "verifier_endpoint_updated", "endpoint", endpoint)
	return cfg, nil
}

// GetConfig returns the current registry configuration.
func (s *Service) GetConfig(ctx context.Context) (*models.Config, error) {
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registry config")
	}
	return cfg, nil
}

const (
	marriageIDTag  = "conubium.marriage.v1"
	certificateTag = "conubium.certificate.v1"
)

// DeriveMarriageID computes the deterministic marriage identifier from the
// canonical spouse pair, the acceptance instant, and the jurisdiction.
func DeriveMarriageID(a, b domain.Identity, acceptedAt time.Time, jurisdiction string) domain.MarriageID {
	if b.Less(a) {
		a, b = b, a
	}
	var unix [8]byte
	binary.BigEndian.PutUint64(unix[:], uint64(acceptedAt.Unix()))
	h := merkle.Keccak256([]byte(marriageIDTag), a[:], b[:], unix[:], []byte(jurisdiction))
	return domain.MarriageID(h)
}

// DeriveCertificateHash is the registry-side default certificate commitment,
// used when the acceptor does not supply one.
func DeriveCertificateHash(marriageID domain.MarriageID, spouse1, spouse2 domain.Identity, createdAt time.Time) domain.Hash32 {
	var unix [8]byte
	binary.BigEndian.PutUint64(unix[:], uint64(createdAt.Unix()))
	return merkle.Keccak256([]byte(certificateTag), marriageID[:], spouse1[:], spouse2[:], unix[:])
}

// requireUnmarried enforces the single-active-marriage rule and, under the
// monotonic policy, the once-consumed rule. Role names the failing party in
// the message without echoing the commitment back.
func (s *Service) requireUnmarried(ctx context.Context, role string, party domain.Identity) error {
	if _, err := s.store.ActiveMarriageOf(ctx, party); err == nil {
		return dErrors.New(dErrors.CodeIdentityAlreadyMarried, role+" is already in an active marriage")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check marriage index")
	}
	if s.policy != models.ConsumedPolicyMonotonic {
		return nil
	}
	consumed, err := s.store.IsConsumed(ctx, party)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check consumed set")
	}
	if consumed {
		return dErrors.New(dErrors.CodeIdentityAlreadyConsumed, role+" has already married once")
	}
	return nil
}

func (s *Service) updateConfig(ctx context.Context, mutate func(cfg *models.Config) map[string]string) (*models.Config, error) {
	now := requestcontext.Now(ctx)
	var updated *models.Config
	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		cfg, err := s.store.GetConfig(txCtx)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load registry config")
		}
		attributes := mutate(cfg)
		cfg.UpdatedAt = now
		if err := s.store.SetConfig(txCtx, cfg); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store registry config")
		}
		updated = cfg
		return s.record(txCtx, contracts.EventConfigurationChanged, "", now, attributes)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) record(ctx context.Context, kind contracts.EventKind, jurisdiction string, at time.Time, attributes map[string]string) error {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.Record(ctx, &ledger.Event{
		Kind:         kind,
		OccurredAt:   at,
		Jurisdiction: jurisdiction,
		Attributes:   attributes,
	})
}

func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if s.logger == nil {
		return
	}
	// Add request_id from context if available
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

func (s *Service) invalidateStatus(ctx context.Context, identities ...domain.Identity) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, identities...); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "status cache invalidation failed", "error", err)
	}
}

// noteProofRejection counts evidence that was judged and refused. Verifier
// outages are not rejections.
func (s *Service) noteProofRejection(err error) error {
	if s.metrics != nil && !dErrors.HasCode(err, dErrors.CodeUnavailable) {
		s.metrics.IncrementProofRejections()
	}
	return err
}

func (s *Service) incrementProposalsCreated() {
	if s.metrics != nil {
		s.metrics.IncrementProposalsCreated()
	}
}

func (s *Service) incrementMarriagesCreated() {
	if s.metrics != nil {
		s.metrics.IncrementMarriagesCreated()
	}
}

func (s *Service) incrementMarriagesDissolved() {
	if s.metrics != nil {
		s.metrics.IncrementMarriagesDissolved()
	}
}

func (s *Service) observeCreateProposal(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveCreateProposal(start)
	}
}

func (s *Service) observeAcceptProposal(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveAcceptProposal(start)
	}
}

func (s *Service) observeRequestDivorce(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRequestDivorce(start)
	}
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, string(dErrors.CodeOf(err)))
	return err
}
