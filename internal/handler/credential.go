package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/handler/dto"
	"github.com/keygate/keygate/internal/middleware"
	"github.com/keygate/keygate/internal/service"
)

// CredentialHandler handles HTTP requests for credential management.
type CredentialHandler struct {
	svc    *service.CredentialService
	logger *slog.Logger
}

// NewCredentialHandler creates a new CredentialHandler.
func NewCredentialHandler(svc *service.CredentialService, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{svc: svc, logger: logger}
}

// Create handles POST /api/v1/credentials.
// The response is the only place the raw key is ever returned.
func (h *CredentialHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if err := middleware.ValidateCredentialName(req.Name); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_NAME", err.Error())
		return
	}
	if req.Environment != "" && req.Environment != auth.EnvLive && req.Environment != auth.EnvTest {
		h.writeError(w, http.StatusBadRequest, "INVALID_ENVIRONMENT", "Environment must be live or test")
		return
	}

	authCtx := auth.AuthFromContext(r.Context())
	input := service.CreateCredentialInput{
		Name:        req.Name,
		Environment: req.Environment,
		ExpiresAt:   req.ExpiresAt,
		IPAddress:   clientIP(r),
	}
	if authCtx != nil {
		input.OwnerID = authCtx.OwnerID
		input.ActorID = authCtx.OwnerID
	}

	cred, err := h.svc.CreateCredential(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.ToCreatedCredentialResponse(cred))
}

// List handles GET /api/v1/credentials.
func (h *CredentialHandler) List(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.AuthFromContext(r.Context())
	if authCtx == nil {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing auth context")
		return
	}

	creds, err := h.svc.ListCredentials(r.Context(), authCtx.OwnerID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToCredentialListResponse(creds))
}

// Update handles PATCH /api/v1/credentials/{id}.
func (h *CredentialHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ID", "Credential ID is required")
		return
	}

	var req dto.UpdateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if req.IsActive == nil {
		h.writeError(w, http.StatusBadRequest, "MISSING_FIELD", "is_active is required")
		return
	}

	authCtx := auth.AuthFromContext(r.Context())
	if authCtx == nil {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing auth context")
		return
	}

	cred, err := h.svc.SetCredentialActive(r.Context(), authCtx.OwnerID, id, *req.IsActive, authCtx.OwnerID, clientIP(r))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToCredentialResponse(cred))
}

// Delete handles DELETE /api/v1/credentials/{id}.
func (h *CredentialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ID", "Credential ID is required")
		return
	}

	authCtx := auth.AuthFromContext(r.Context())
	if authCtx == nil {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing auth context")
		return
	}

	if err := h.svc.DeleteCredential(r.Context(), authCtx.OwnerID, id, authCtx.OwnerID, clientIP(r)); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CredentialHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrCredentialNotFound):
		h.writeError(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "Credential not found")
	case errors.Is(err, service.ErrExpiresInPast):
		h.writeError(w, http.StatusUnprocessableEntity, "EXPIRES_IN_PAST", "Expiry date must be in the future")
	default:
		h.logger.Error("internal_error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

func (h *CredentialHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{Error: message, Code: code})
}
