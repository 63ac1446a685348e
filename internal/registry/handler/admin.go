package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"conubium/internal/identity"
	"conubium/internal/platform/middleware"
	"conubium/internal/registry/models"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
	"conubium/pkg/platform/httputil"
	"conubium/pkg/requestcontext"
)

// AdminService defines the interface for registry configuration operations.
type AdminService interface {
	UpdateRoot(ctx context.Context, root domain.Hash32) (*models.Config, error)
	UpdateVerifier(ctx context.Context, endpoint string) (*models.Config, error)
	GetConfig(ctx context.Context) (*models.Config, error)
	BindingMode() identity.Mode
	Policy() models.ConsumedPolicy
}

// AdminHandler wires the operator surface: roster root rotation, verifier
// endpoint changes, and config introspection.
type AdminHandler struct {
	service    AdminService
	logger     *slog.Logger
	adminToken string
}

// NewAdmin constructs the admin handler. An empty token keeps the whole
// surface closed.
func NewAdmin(service AdminService, logger *slog.Logger, adminToken string) *AdminHandler {
	return &AdminHandler{
		service:    service,
		logger:     logger,
		adminToken: adminToken,
	}
}

// Register mounts the admin endpoints behind the token check.
func (h *AdminHandler) Register(r chi.Router) {
	adminRouter := chi.NewRouter()
	adminRouter.Use(middleware.RequireAdminToken(h.adminToken, h.logger))
	adminRouter.Put("/roster-root", h.HandleUpdateRoot)
	adminRouter.Put("/verifier", h.HandleUpdateVerifier)
	adminRouter.Get("/config", h.HandleGetConfig)

	r.Mount("/admin", adminRouter)
}

// UpdateRootRequest is the HTTP request body for PUT /admin/roster-root.
// A zero root is allowed: it unpublishes the roster, failing every membership
// check until a new root lands.
type UpdateRootRequest struct {
	Root string `json:"root"`

	parsedRoot domain.Hash32
}

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *UpdateRootRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	root, err := domain.ParseHash32(strings.TrimSpace(r.Root))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "root is invalid")
	}
	r.parsedRoot = root
	return nil
}

// ParsedRoot returns the validated membership root.
func (r *UpdateRootRequest) ParsedRoot() domain.Hash32 {
	return r.parsedRoot
}

// UpdateVerifierRequest is the HTTP request body for PUT /admin/verifier. An
// empty endpoint clears the configured verifier.
type UpdateVerifierRequest struct {
	Endpoint string `json:"endpoint"`
}

// Validate trims the endpoint; URL shape is checked by the service.
func (r *UpdateVerifierRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Endpoint = strings.TrimSpace(r.Endpoint)
	return nil
}

// ConfigResponse is the wire shape of the registry configuration.
type ConfigResponse struct {
	BindingMode      string    `json:"binding_mode"`
	ConsumedPolicy   string    `json:"consumed_policy"`
	MembershipRoot   string    `json:"membership_root,omitempty"`
	VerifierEndpoint string    `json:"verifier_endpoint,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (h *AdminHandler) configResponse(cfg *models.Config) *ConfigResponse {
	resp := &ConfigResponse{
		BindingMode:      string(h.service.BindingMode()),
		ConsumedPolicy:   string(h.service.Policy()),
		VerifierEndpoint: cfg.VerifierEndpoint,
		UpdatedAt:        cfg.UpdatedAt,
	}
	if !cfg.MembershipRoot.IsZero() {
		resp.MembershipRoot = cfg.MembershipRoot.String()
	}
	return resp
}

// HandleUpdateRoot handles PUT /admin/roster-root requests.
func (h *AdminHandler) HandleUpdateRoot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[UpdateRootRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cfg, err := h.service.UpdateRoot(ctx, req.ParsedRoot())
	if err != nil {
		h.logger.ErrorContext(ctx, "roster root update failed",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "roster root updated",
		"request_id", requestID,
		"root", req.ParsedRoot(),
	)
	httputil.WriteJSON(w, http.StatusOK, h.configResponse(cfg))
}

// HandleUpdateVerifier handles PUT /admin/verifier requests.
func (h *AdminHandler) HandleUpdateVerifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[UpdateVerifierRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	cfg, err := h.service.UpdateVerifier(ctx, req.Endpoint)
	if err != nil {
		h.logger.WarnContext(ctx, "verifier update rejected",
			"request_id", requestID,
			"endpoint", req.Endpoint,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "verifier endpoint updated",
		"request_id", requestID,
		"endpoint", req.Endpoint,
	)
	httputil.WriteJSON(w, http.StatusOK, h.configResponse(cfg))
}

// HandleGetConfig handles GET /admin/config requests.
func (h *AdminHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfg, err := h.service.GetConfig(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "config lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, h.configResponse(cfg))
}
