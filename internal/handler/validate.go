package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/handler/dto"
	"github.com/keygate/keygate/internal/middleware"
	"github.com/keygate/keygate/internal/service"
)

// ValidateHandler handles the license validation endpoint.
type ValidateHandler struct {
	svc    *service.ValidationService
	logger *slog.Logger
}

// NewValidateHandler creates a new ValidateHandler.
func NewValidateHandler(svc *service.ValidationService, logger *slog.Logger) *ValidateHandler {
	return &ValidateHandler{svc: svc, logger: logger}
}

// Validate handles POST /api/v1/license/validate.
//
// Denials (wrong status, expired, device quota) are 200 responses with
// valid=false; only an unknown key is a 404. Client integrations branch
// on the valid flag, not the HTTP status.
func (h *ValidateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req dto.ValidateLicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ValidateErrorResponse("Missing license key"))
		return
	}

	if req.LicenseKey == "" {
		writeJSON(w, http.StatusBadRequest, dto.ValidateErrorResponse("Missing license key"))
		return
	}

	if err := h.validateInput(req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ValidateErrorResponse(err.Error()))
		return
	}

	authCtx := auth.AuthFromContext(r.Context())
	input := service.ValidateInput{
		LicenseKey: req.LicenseKey,
		HWID:       req.HWID,
		DeviceName: req.DeviceName,
		OSInfo:     req.OSInfo,
		IPAddress:  clientIP(r),
	}
	if authCtx != nil {
		// The audit trail attributes validations to the owning account,
		// not the individual credential.
		input.ActorID = authCtx.OwnerID
	}

	verdict, err := h.svc.Validate(r.Context(), input)
	if err != nil {
		if errors.Is(err, service.ErrLicenseNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ValidateErrorResponse("License not found"))
			return
		}
		h.logger.Error("validation failed",
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
		writeJSON(w, http.StatusInternalServerError, dto.ValidateErrorResponse("An internal error occurred"))
		return
	}

	writeJSON(w, http.StatusOK, dto.ToValidateResponse(verdict))
}

// validateInput applies the request field bounds.
func (h *ValidateHandler) validateInput(req dto.ValidateLicenseRequest) error {
	if err := middleware.ValidateLicenseKeyInput(req.LicenseKey); err != nil {
		return err
	}
	if err := middleware.ValidateHWID(req.HWID); err != nil {
		return err
	}
	if err := middleware.ValidateDeviceName(req.DeviceName); err != nil {
		return err
	}
	return middleware.ValidateOSInfo(req.OSInfo)
}

// clientIP strips the port from RemoteAddr. The RealIP middleware has
// already resolved forwarded headers by this point.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
