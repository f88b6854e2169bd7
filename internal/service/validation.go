// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

// Service errors.
var (
	ErrLicenseNotFound = errors.New("license not found")
	ErrLicenseExists   = errors.New("license key already exists")
	ErrDeviceNotFound  = errors.New("device not found")
)

// LicenseStore is the subset of repository operations the validation
// engine needs for license lookup.
type LicenseStore interface {
	GetLicenseByKey(ctx context.Context, key string) (*model.License, error)
}

// DeviceStore is the subset of repository operations the validation
// engine needs for device binding.
type DeviceStore interface {
	UpsertDeviceOnValidate(ctx context.Context, licenseID, hwid, deviceName, osInfo string, maxDevices int) (*model.DeviceBindResult, error)
	CountActiveDevices(ctx context.Context, licenseID string) (int, error)
}

// Auditor records audit entries without blocking the caller.
type Auditor interface {
	Record(ctx context.Context, entry *model.AuditEntry)
}

// Denial identifies why a validation request was refused.
type Denial int

const (
	DenialNone Denial = iota
	// DenialStatus means the license status is not active.
	DenialStatus
	// DenialExpired means the license is active but past its expiry.
	DenialExpired
	// DenialQuota means the device quota is already full.
	DenialQuota
)

// Verdict is the outcome of a validation request.
type Verdict struct {
	Valid         bool
	Denial        Denial
	License       *model.License
	ActiveDevices int
	// BindOutcome is set when the request carried a hwid and the
	// license passed the lifecycle checks.
	BindOutcome model.BindOutcome
}

// DenialMessage returns the client-facing message for a denied verdict.
func (v *Verdict) DenialMessage() string {
	switch v.Denial {
	case DenialStatus:
		return fmt.Sprintf("License is %s", v.License.Status)
	case DenialExpired:
		return "License has expired"
	case DenialQuota:
		return "Maximum devices reached"
	default:
		return ""
	}
}

// ValidateInput defines input for a validation request.
type ValidateInput struct {
	LicenseKey string
	HWID       string
	DeviceName string
	OSInfo     string
	// ActorID is the account that owns the calling credential.
	ActorID string
	// IPAddress of the calling client, for the audit trail.
	IPAddress string
}

// ValidationService implements the license validation pipeline.
type ValidationService struct {
	licenses LicenseStore
	devices  DeviceStore
	auditor  Auditor
	logger   *slog.Logger
	metrics  metrics.Recorder
	now      func() time.Time
}

// NewValidationService creates a new ValidationService.
func NewValidationService(licenses LicenseStore, devices DeviceStore, auditor Auditor, logger *slog.Logger, recorder metrics.Recorder) *ValidationService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &ValidationService{
		licenses: licenses,
		devices:  devices,
		auditor:  auditor,
		logger:   logger,
		metrics:  recorder,
		now:      time.Now,
	}
}

// Validate runs the validation pipeline: license lookup, lifecycle
// evaluation, optional device binding, and the audit trail. A denied
// license is not an error; the verdict carries the denial reason.
func (s *ValidationService) Validate(ctx context.Context, input ValidateInput) (*Verdict, error) {
	start := s.now()
	defer func() {
		s.metrics.ObserveValidationDuration(time.Since(start))
	}()

	// Keys that cannot match the stored shape skip the database round
	// trip and report the same result a lookup would.
	if !model.ValidLicenseKey(input.LicenseKey) {
		s.metrics.IncValidationNotFound()
		return nil, ErrLicenseNotFound
	}

	license, err := s.licenses.GetLicenseByKey(ctx, input.LicenseKey)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			s.metrics.IncValidationNotFound()
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("license lookup: %w", err)
	}

	now := s.now()

	switch license.Evaluate(now) {
	case model.LifecycleNotActive:
		s.metrics.IncValidationDenied(metrics.DenialStatus)
		s.logDenial(ctx, license, input, "status")
		return &Verdict{Valid: false, Denial: DenialStatus, License: license}, nil
	case model.LifecycleTimeExpired:
		s.metrics.IncValidationDenied(metrics.DenialExpired)
		s.logDenial(ctx, license, input, "expired")
		return &Verdict{Valid: false, Denial: DenialExpired, License: license}, nil
	}

	verdict := &Verdict{Valid: true, License: license}

	if input.HWID != "" {
		result, err := s.devices.UpsertDeviceOnValidate(ctx, license.ID, input.HWID, input.DeviceName, input.OSInfo, license.MaxDevices)
		if err != nil {
			return nil, fmt.Errorf("device binding: %w", err)
		}

		verdict.BindOutcome = result.Outcome
		verdict.ActiveDevices = result.ActiveDevices

		switch result.Outcome {
		case model.BindRejectedQuota:
			s.metrics.IncValidationDenied(metrics.DenialQuota)
			s.logDenial(ctx, license, input, "quota")
			return &Verdict{
				Valid:         false,
				Denial:        DenialQuota,
				License:       license,
				ActiveDevices: result.ActiveDevices,
			}, nil
		case model.BindAccepted:
			s.metrics.IncDeviceBound()
		case model.BindRefreshed:
			s.metrics.IncDeviceRefreshed()
		}
	} else {
		count, err := s.devices.CountActiveDevices(ctx, license.ID)
		if err != nil {
			return nil, fmt.Errorf("device count: %w", err)
		}
		verdict.ActiveDevices = count
	}

	s.recordValidation(ctx, license, input)
	s.metrics.IncValidationAccepted()

	s.logger.Info("license validated",
		slog.String("license_id", license.ID),
		slog.String("key_prefix", licenseKeyPrefix(license.LicenseKey)),
		slog.String("status", string(license.Status)),
		slog.Int("active_devices", verdict.ActiveDevices),
		slog.Bool("device_bound", input.HWID != ""),
	)

	return verdict, nil
}

// recordValidation publishes a successful validation to the audit trail.
// The auditor never blocks the verdict.
func (s *ValidationService) recordValidation(ctx context.Context, license *model.License, input ValidateInput) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, &model.AuditEntry{
		EntityType:  model.AuditEntityLicense,
		EntityID:    license.ID,
		Action:      model.AuditActionValidate,
		Description: fmt.Sprintf("License validated via API: %s", license.LicenseKey),
		ActorID:     input.ActorID,
		IPAddress:   input.IPAddress,
		CreatedAt:   s.now().UTC(),
	})
}

func (s *ValidationService) logDenial(ctx context.Context, license *model.License, input ValidateInput, reason string) {
	s.logger.Info("license validation denied",
		slog.String("license_id", license.ID),
		slog.String("key_prefix", licenseKeyPrefix(license.LicenseKey)),
		slog.String("status", string(license.Status)),
		slog.String("reason", reason),
		slog.Bool("device_requested", input.HWID != ""),
	)
}

// licenseKeyPrefix returns the first segment of a license key for log
// correlation without exposing the full key.
func licenseKeyPrefix(key string) string {
	if len(key) >= 4 {
		return key[:4]
	}
	return key
}
