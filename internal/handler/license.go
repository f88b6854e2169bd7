package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/handler/dto"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// LicenseHandler handles HTTP requests for license management.
type LicenseHandler struct {
	svc    *service.LicenseService
	logger *slog.Logger
}

// NewLicenseHandler creates a new LicenseHandler.
func NewLicenseHandler(svc *service.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{svc: svc, logger: logger}
}

// Create handles POST /api/v1/licenses.
func (h *LicenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if req.CustomerID == "" || req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_FIELD", "customer_id and product_id are required")
		return
	}

	actorID, ip := h.actor(r)
	input := service.CreateLicenseInput{
		LicenseKey: req.LicenseKey,
		CustomerID: req.CustomerID,
		ProductID:  req.ProductID,
		Status:     model.LicenseStatus(req.Status),
		ExpireAt:   req.ExpireAt,
		MaxDevices: req.MaxDevices,
		ActorID:    actorID,
		IPAddress:  ip,
	}

	lic, err := h.svc.CreateLicense(r.Context(), input)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("license_created",
		"license_id", lic.ID,
		"has_custom_key", req.LicenseKey != "",
	)

	writeJSON(w, http.StatusCreated, dto.ToLicenseResponse(lic))
}

// Get handles GET /api/v1/licenses/{id}.
func (h *LicenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ID", "License ID is required")
		return
	}

	lic, err := h.svc.GetLicense(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToLicenseResponse(lic))
}

// UpdateStatus handles PATCH /api/v1/licenses/{id}/status.
func (h *LicenseHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ID", "License ID is required")
		return
	}

	var req dto.UpdateLicenseStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	actorID, ip := h.actor(r)
	lic, err := h.svc.UpdateLicenseStatus(r.Context(), id, model.LicenseStatus(req.Status), actorID, ip)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToLicenseResponse(lic))
}

// ListDevices handles GET /api/v1/licenses/{id}/devices.
func (h *LicenseHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ID", "License ID is required")
		return
	}

	devices, err := h.svc.ListDevices(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToDeviceListResponse(devices))
}

// DeactivateDevice handles DELETE /api/v1/licenses/{id}/devices/{deviceID}.
func (h *LicenseHandler) DeactivateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deviceID := chi.URLParam(r, "deviceID")
	if id == "" || deviceID == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ID", "License and device IDs are required")
		return
	}

	actorID, ip := h.actor(r)
	if err := h.svc.DeactivateDevice(r.Context(), id, deviceID, actorID, ip); err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// actor identifies the owning account for the audit trail.
func (h *LicenseHandler) actor(r *http.Request) (string, string) {
	if authCtx := auth.AuthFromContext(r.Context()); authCtx != nil {
		return authCtx.OwnerID, clientIP(r)
	}
	return "", clientIP(r)
}

func (h *LicenseHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrLicenseNotFound):
		h.writeError(w, http.StatusNotFound, "LICENSE_NOT_FOUND", "License not found")
	case errors.Is(err, service.ErrDeviceNotFound):
		h.writeError(w, http.StatusNotFound, "DEVICE_NOT_FOUND", "Device not found")
	case errors.Is(err, service.ErrLicenseExists):
		h.writeError(w, http.StatusConflict, "LICENSE_KEY_TAKEN", "License key already exists")
	case errors.Is(err, service.ErrInvalidLicenseKey):
		h.writeError(w, http.StatusBadRequest, "INVALID_LICENSE_KEY", "License key must match XXXX-XXXX-XXXX-XXXX")
	case errors.Is(err, service.ErrInvalidStatus):
		h.writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Status must be active, pending, suspended, or expired")
	case errors.Is(err, service.ErrInvalidMaxDevices):
		h.writeError(w, http.StatusBadRequest, "INVALID_MAX_DEVICES", "max_devices must be at least 1")
	default:
		h.logger.Error("internal_error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

func (h *LicenseHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{Error: message, Code: code})
}
