// Package handler serves the public audit surface: the event feed, ledger
// checkpoints, and per-event inclusion proofs. Everything here is read-only
// and identifier-only.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	contracts "conubium/contracts/registry"
	"conubium/internal/ledger"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/platform/httputil"
	"conubium/pkg/requestcontext"
)

const (
	defaultFeedLimit = 50
	maxFeedLimit     = 500
)

// Handler wires ledger endpoints to the event store.
type Handler struct {
	store  ledger.Store
	logger *slog.Logger
}

// New constructs a ledger handler with its dependencies.
func New(store ledger.Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// Register mounts ledger endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/registry/ledger/events", h.HandleListEvents)
	r.Get("/registry/ledger/checkpoint", h.HandleGetCheckpoint)
	r.Get("/registry/ledger/events/{eventID}/proof", h.HandleGetProof)
}

// EventsResponse is the wire shape of the event feed, newest first.
type EventsResponse struct {
	Events []contracts.EventRecord `json:"events"`
	Count  int                     `json:"count"`
}

// HandleListEvents handles GET /registry/ledger/events requests.
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultFeedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxFeedLimit)
	}

	events, err := h.store.ListRecent(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "event feed lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list events"))
		return
	}

	records := make([]contracts.EventRecord, len(events))
	for i := range events {
		records[i] = events[i].ToRecord()
	}
	httputil.WriteJSON(w, http.StatusOK, EventsResponse{Events: records, Count: len(records)})
}

// HandleGetCheckpoint handles GET /registry/ledger/checkpoint requests.
func (h *Handler) HandleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checkpoint, err := ledger.BuildCheckpoint(ctx, h.store)
	if err != nil {
		h.logger.ErrorContext(ctx, "checkpoint build failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build checkpoint"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, checkpoint)
}

// HandleGetProof handles GET /registry/ledger/events/{eventID}/proof requests.
func (h *Handler) HandleGetProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID, err := uuid.Parse(chi.URLParam(r, "eventID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "event id must be a UUID"))
		return
	}

	proof, err := ledger.ProveInclusion(ctx, h.store, eventID)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeNotFound {
			httputil.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "inclusion proof failed",
			"request_id", requestcontext.RequestID(ctx),
			"event_id", eventID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build inclusion proof"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, proof)
}
