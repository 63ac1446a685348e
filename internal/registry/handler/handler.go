// Package handler wires the marriage registry lifecycle to its HTTP routes.
// Handlers parse and validate at the edge then delegate to the registry
// service; no lifecycle rule lives here.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"conubium/internal/identity"
	"conubium/internal/registry/models"
	"conubium/internal/registry/service"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
	"conubium/pkg/platform/httputil"
	"conubium/pkg/requestcontext"
)

// Service defines the interface for registry lifecycle operations.
type Service interface {
	CreateProposal(ctx context.Context, req service.CreateProposalRequest) (*models.Proposal, error)
	AcceptProposal(ctx context.Context, proposalID domain.ProposalID, ev identity.Evidence, certificateHash domain.Hash32) (*models.Marriage, error)
	RequestDivorce(ctx context.Context, marriageID domain.MarriageID, ev identity.Evidence) (*models.Marriage, error)
	GetProposal(ctx context.Context, proposalID domain.ProposalID) (*models.Proposal, error)
	GetMarriage(ctx context.Context, marriageID domain.MarriageID) (*models.Marriage, error)
}

// Handler wires registry endpoints to the registry service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a registry handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts registry lifecycle endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/registry/proposals", h.HandleCreateProposal)
	r.Get("/registry/proposals/{proposalID}", h.HandleGetProposal)
	r.Post("/registry/proposals/{proposalID}/accept", h.HandleAcceptProposal)
	r.Get("/registry/marriages/{marriageID}", h.HandleGetMarriage)
	r.Post("/registry/marriages/{marriageID}/divorce", h.HandleRequestDivorce)
}

// HandleCreateProposal handles POST /registry/proposals requests.
func (h *Handler) HandleCreateProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[CreateProposalRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	proposal, err := h.service.CreateProposal(ctx, req.Parsed())
	if err != nil {
		h.logError(ctx, "proposal creation failed", requestID, err,
			"proposal_id", req.ProposalID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "proposal created",
		"request_id", requestID,
		"proposal_id", proposal.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromProposal(proposal, requestcontext.Now(ctx)))
}

// HandleAcceptProposal handles POST /registry/proposals/{proposalID}/accept
// requests.
func (h *Handler) HandleAcceptProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	proposalID, err := domain.ParseProposalID(chi.URLParam(r, "proposalID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "proposal id is invalid"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[AcceptProposalRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	marriage, err := h.service.AcceptProposal(ctx, proposalID, req.ParsedEvidence(), req.ParsedCertificateHash())
	if err != nil {
		h.logError(ctx, "proposal acceptance failed", requestID, err,
			"proposal_id", proposalID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "proposal accepted",
		"request_id", requestID,
		"proposal_id", proposalID,
		"marriage_id", marriage.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromMarriage(marriage))
}

// HandleRequestDivorce handles POST /registry/marriages/{marriageID}/divorce
// requests.
func (h *Handler) HandleRequestDivorce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	marriageID, err := domain.ParseMarriageID(chi.URLParam(r, "marriageID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "marriage id is invalid"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[DivorceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	marriage, err := h.service.RequestDivorce(ctx, marriageID, req.ParsedEvidence())
	if err != nil {
		h.logError(ctx, "divorce request failed", requestID, err,
			"marriage_id", marriageID,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "marriage dissolved",
		"request_id", requestID,
		"marriage_id", marriageID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromMarriage(marriage))
}

// HandleGetProposal handles GET /registry/proposals/{proposalID} requests.
func (h *Handler) HandleGetProposal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	proposalID, err := domain.ParseProposalID(chi.URLParam(r, "proposalID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "proposal id is invalid"))
		return
	}

	proposal, err := h.service.GetProposal(ctx, proposalID)
	if err != nil {
		h.logError(ctx, "proposal lookup failed", requestcontext.RequestID(ctx), err,
			"proposal_id", proposalID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromProposal(proposal, requestcontext.Now(ctx)))
}

// HandleGetMarriage handles GET /registry/marriages/{marriageID} requests.
func (h *Handler) HandleGetMarriage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	marriageID, err := domain.ParseMarriageID(chi.URLParam(r, "marriageID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeValidation, "marriage id is invalid"))
		return
	}

	marriage, err := h.service.GetMarriage(ctx, marriageID)
	if err != nil {
		h.logError(ctx, "marriage lookup failed", requestcontext.RequestID(ctx), err,
			"marriage_id", marriageID,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, FromMarriage(marriage))
}

// logError keeps expected rejections at warn and real failures at error.
func (h *Handler) logError(ctx context.Context, msg, requestID string, err error, args ...any) {
	args = append(args, "request_id", requestID, "error", err.Error())
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeUnavailable, dErrors.CodeTimeout:
		h.logger.ErrorContext(ctx, msg, args...)
	default:
		h.logger.WarnContext(ctx, msg, args...)
	}
}
