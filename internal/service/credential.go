package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/cache"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/repository"
)

// ErrCredentialNotFound is returned when a credential does not exist.
var ErrCredentialNotFound = errors.New("credential not found")

// ErrExpiresInPast is returned when a requested expiry is already past.
var ErrExpiresInPast = errors.New("expires_at must be in the future")

// CredentialService manages API credentials.
type CredentialService struct {
	repo    *repository.Repository
	cache   *cache.Cache
	auditor Auditor
	logger  *slog.Logger
}

// NewCredentialService creates a new CredentialService.
func NewCredentialService(repo *repository.Repository, cache *cache.Cache, auditor Auditor, logger *slog.Logger) *CredentialService {
	return &CredentialService{repo: repo, cache: cache, auditor: auditor, logger: logger}
}

// CreateCredentialInput defines input for creating a credential.
type CreateCredentialInput struct {
	OwnerID     string
	Name        string
	Environment string // "live" or "test", defaults to live
	ExpiresAt   *time.Time
	ActorID     string
	IPAddress   string
}

// CreateCredential generates a new credential token and stores it.
// The returned credential carries the raw token; this is the one code
// path where it leaves the service.
func (s *CredentialService) CreateCredential(ctx context.Context, input CreateCredentialInput) (*model.Credential, error) {
	if input.ExpiresAt != nil && input.ExpiresAt.Before(time.Now()) {
		return nil, ErrExpiresInPast
	}

	env := input.Environment
	if env == "" {
		env = auth.EnvLive
	}

	token, err := auth.GenerateToken(env)
	if err != nil {
		return nil, fmt.Errorf("generate credential token: %w", err)
	}

	cred := &model.Credential{
		ID:        uuid.New().String(),
		OwnerID:   input.OwnerID,
		Key:       token.Token,
		KeyPrefix: token.Prefix,
		Name:      input.Name,
		IsActive:  true,
		ExpiresAt: input.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.CreateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}

	s.audit(ctx, cred, model.AuditActionCreate,
		fmt.Sprintf("API credential created: %s", cred.KeyPrefix), input.ActorID, input.IPAddress)

	s.logger.Info("credential created",
		slog.String("credential_id", cred.ID),
		slog.String("key_prefix", cred.KeyPrefix),
		slog.String("owner_id", cred.OwnerID),
	)

	return cred, nil
}

// GetCredential retrieves a credential by ID.
func (s *CredentialService) GetCredential(ctx context.Context, id string) (*model.Credential, error) {
	cred, err := s.repo.GetCredentialByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return cred, nil
}

// ListCredentials retrieves all credentials for an owner.
func (s *CredentialService) ListCredentials(ctx context.Context, ownerID string) ([]*model.Credential, error) {
	return s.repo.ListCredentialsByOwner(ctx, ownerID)
}

// SetCredentialActive toggles a credential on or off. Only credentials
// belonging to ownerID are reachable; anything else reports not-found so
// the endpoint does not confirm which IDs exist. Deactivating also evicts
// the auth cache entry so the change takes effect immediately instead of
// after the cache TTL.
func (s *CredentialService) SetCredentialActive(ctx context.Context, ownerID, id string, active bool, actorID, ip string) (*model.Credential, error) {
	cred, err := s.repo.GetCredentialByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	if cred.OwnerID != ownerID {
		return nil, ErrCredentialNotFound
	}

	if err := s.repo.SetCredentialActive(ctx, id, active); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	cred.IsActive = active

	if !active {
		s.evictAuthCache(ctx, cred)
	}

	action := model.AuditActionActivate
	verb := "activated"
	if !active {
		action = model.AuditActionDeactivate
		verb = "deactivated"
	}
	s.audit(ctx, cred, action,
		fmt.Sprintf("API credential %s: %s", verb, cred.KeyPrefix), actorID, ip)

	s.logger.Info("credential "+verb,
		slog.String("credential_id", cred.ID),
		slog.String("key_prefix", cred.KeyPrefix),
	)

	return cred, nil
}

// DeleteCredential permanently removes one of ownerID's credentials and
// evicts its auth cache entry. Credentials of other owners report
// not-found.
func (s *CredentialService) DeleteCredential(ctx context.Context, ownerID, id string, actorID, ip string) error {
	cred, err := s.repo.GetCredentialByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return ErrCredentialNotFound
		}
		return err
	}
	if cred.OwnerID != ownerID {
		return ErrCredentialNotFound
	}

	if err := s.repo.DeleteCredential(ctx, id); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return ErrCredentialNotFound
		}
		return err
	}

	s.evictAuthCache(ctx, cred)

	s.audit(ctx, cred, model.AuditActionDelete,
		fmt.Sprintf("API credential deleted: %s", cred.KeyPrefix), actorID, ip)

	s.logger.Info("credential deleted",
		slog.String("credential_id", cred.ID),
		slog.String("key_prefix", cred.KeyPrefix),
	)

	return nil
}

func (s *CredentialService) evictAuthCache(ctx context.Context, cred *model.Credential) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteAuthContext(ctx, auth.QuickHash(cred.Key)); err != nil {
		// The entry falls out on its own TTL; log and move on.
		s.logger.Warn("failed to evict auth cache entry",
			slog.String("credential_id", cred.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CredentialService) audit(ctx context.Context, cred *model.Credential, action, description, actorID, ip string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, &model.AuditEntry{
		EntityType:  model.AuditEntityCredential,
		EntityID:    cred.ID,
		Action:      action,
		Description: description,
		ActorID:     actorID,
		IPAddress:   ip,
		CreatedAt:   time.Now().UTC(),
	})
}
