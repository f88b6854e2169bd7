package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

// maxKeyGenRetries bounds collision retries when generating license keys.
const maxKeyGenRetries = 3

// LicenseService manages licenses and their device bindings.
type LicenseService struct {
	repo    *repository.Repository
	auditor Auditor
	logger  *slog.Logger
}

// NewLicenseService creates a new LicenseService.
func NewLicenseService(repo *repository.Repository, auditor Auditor, logger *slog.Logger) *LicenseService {
	return &LicenseService{repo: repo, auditor: auditor, logger: logger}
}

// CreateLicenseInput defines input for creating a license.
type CreateLicenseInput struct {
	// LicenseKey is optional; when empty a key is generated.
	LicenseKey string
	CustomerID string
	ProductID  string
	Status     model.LicenseStatus
	ExpireAt   *time.Time
	MaxDevices int
	ActorID    string
	IPAddress  string
}

// Input validation errors.
var (
	ErrInvalidLicenseKey = errors.New("license key does not match the required shape")
	ErrInvalidStatus     = errors.New("invalid license status")
	ErrInvalidMaxDevices = errors.New("max_devices must be at least 1")
)

// CreateLicense creates a new license, generating a key when none is supplied.
func (s *LicenseService) CreateLicense(ctx context.Context, input CreateLicenseInput) (*model.License, error) {
	if input.LicenseKey != "" && !model.ValidLicenseKey(input.LicenseKey) {
		return nil, ErrInvalidLicenseKey
	}

	status := input.Status
	if status == "" {
		status = model.LicenseStatusActive
	}
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}

	if input.MaxDevices < 1 {
		return nil, ErrInvalidMaxDevices
	}

	now := time.Now().UTC()
	lic := &model.License{
		ID:         uuid.New().String(),
		LicenseKey: input.LicenseKey,
		CustomerID: input.CustomerID,
		ProductID:  input.ProductID,
		Status:     status,
		ExpireAt:   input.ExpireAt,
		MaxDevices: input.MaxDevices,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if lic.LicenseKey == "" {
		if err := s.createWithGeneratedKey(ctx, lic); err != nil {
			return nil, err
		}
	} else {
		if err := s.repo.CreateLicense(ctx, lic); err != nil {
			if errors.Is(err, repository.ErrLicenseKeyExists) {
				return nil, ErrLicenseExists
			}
			return nil, fmt.Errorf("create license: %w", err)
		}
	}

	s.audit(ctx, lic.ID, model.AuditActionCreate,
		fmt.Sprintf("License created: %s", lic.LicenseKey), input.ActorID, input.IPAddress)

	s.logger.Info("license created",
		slog.String("license_id", lic.ID),
		slog.String("key_prefix", licenseKeyPrefix(lic.LicenseKey)),
		slog.String("status", string(lic.Status)),
		slog.Int("max_devices", lic.MaxDevices),
	)

	return lic, nil
}

// createWithGeneratedKey retries key generation on the unlikely collision.
func (s *LicenseService) createWithGeneratedKey(ctx context.Context, lic *model.License) error {
	for i := 0; i < maxKeyGenRetries; i++ {
		key, err := model.GenerateLicenseKey()
		if err != nil {
			return err
		}
		lic.LicenseKey = key

		err = s.repo.CreateLicense(ctx, lic)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrLicenseKeyExists) {
			return fmt.Errorf("create license: %w", err)
		}
	}
	return errors.New("failed to generate unique license key after retries")
}

// GetLicense retrieves a license by ID.
func (s *LicenseService) GetLicense(ctx context.Context, id string) (*model.License, error) {
	lic, err := s.repo.GetLicenseByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	return lic, nil
}

// UpdateLicenseStatus changes the recorded status of a license.
func (s *LicenseService) UpdateLicenseStatus(ctx context.Context, id string, status model.LicenseStatus, actorID, ip string) (*model.License, error) {
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}

	lic, err := s.repo.GetLicenseByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}

	if err := s.repo.UpdateLicenseStatus(ctx, id, status); err != nil {
		return nil, err
	}
	lic.Status = status

	action := model.AuditActionDeactivate
	if status == model.LicenseStatusActive {
		action = model.AuditActionActivate
	}
	s.audit(ctx, lic.ID, action,
		fmt.Sprintf("License status changed to %s: %s", status, lic.LicenseKey), actorID, ip)

	return lic, nil
}

// ListDevices returns the active device bindings for a license.
func (s *LicenseService) ListDevices(ctx context.Context, licenseID string) ([]*model.DeviceBinding, error) {
	if _, err := s.GetLicense(ctx, licenseID); err != nil {
		return nil, err
	}
	return s.repo.ListActiveDevices(ctx, licenseID)
}

// DeactivateDevice releases a device binding, freeing a quota slot.
func (s *LicenseService) DeactivateDevice(ctx context.Context, licenseID, deviceID string, actorID, ip string) error {
	device, err := s.repo.GetDeviceBindingByID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}
	if device.LicenseID != licenseID {
		return ErrDeviceNotFound
	}

	if err := s.repo.DeactivateDevice(ctx, deviceID); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}

	s.auditDevice(ctx, deviceID, model.AuditActionDeactivate,
		fmt.Sprintf("Device deactivated: %s", device.HWID), actorID, ip)

	s.logger.Info("device deactivated",
		slog.String("device_id", deviceID),
		slog.String("license_id", licenseID),
	)

	return nil
}

func (s *LicenseService) audit(ctx context.Context, licenseID, action, description, actorID, ip string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, &model.AuditEntry{
		EntityType:  model.AuditEntityLicense,
		EntityID:    licenseID,
		Action:      action,
		Description: description,
		ActorID:     actorID,
		IPAddress:   ip,
		CreatedAt:   time.Now().UTC(),
	})
}

func (s *LicenseService) auditDevice(ctx context.Context, deviceID, action, description, actorID, ip string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, &model.AuditEntry{
		EntityType:  model.AuditEntityDevice,
		EntityID:    deviceID,
		Action:      action,
		Description: description,
		ActorID:     actorID,
		IPAddress:   ip,
		CreatedAt:   time.Now().UTC(),
	})
}
