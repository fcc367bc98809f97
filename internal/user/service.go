package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/danuarta/archive-management/internal"
	"github.com/danuarta/archive-management/internal/cache"
	"github.com/danuarta/archive-management/internal/core/events"
)

// Publisher is the slice of the event bus the service needs.
type Publisher interface {
	Publish(ctx context.Context, event events.Event)
}

// Service implements user CRUD with cache-aside reads and coarse pattern
// invalidation on writes. Correctness over precision: every mutation sweeps
// the whole users: prefix rather than computing the affected list/search
// keys.
type Service struct {
	repo       Repository
	cache      *cache.Store
	ttl        internal.CacheConfig
	events     Publisher
	bcryptCost int
	logger     *slog.Logger
}

func NewService(repo Repository, store *cache.Store, ttl internal.CacheConfig, publisher Publisher, bcryptCost int, logger *slog.Logger) *Service {
	if bcryptCost < bcrypt.DefaultCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:       repo,
		cache:      store,
		ttl:        ttl,
		events:     publisher,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// Create persists a new user. Duplicate checks go straight to the
// persistent store: uniqueness must observe the latest state, never a
// cached snapshot.
func (s *Service) Create(ctx context.Context, dto CreateUserDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkDuplicates(ctx, dto.Username, dto.Email, dto.Phone, 0); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), s.bcryptCost)
	if err != nil {
		return nil, internal.NewInternalError("failed to hash password", err)
	}

	role := dto.Role
	if role == "" {
		role = RoleDepartmentStaff
	}

	u := &User{
		FullName:     dto.FullName,
		Username:     dto.Username,
		Email:        dto.Email,
		Phone:        dto.Phone,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, internal.NewInternalError("failed to create user", err)
	}

	s.invalidate(ctx, "")
	s.logger.Info("user created", "username", u.Username, "user_id", u.ID)
	return u, nil
}

func (s *Service) FindAll(ctx context.Context, f Filter) ([]*User, error) {
	return cache.GetOrSet(ctx, s.cache, CacheKeyList(f),
		cache.Options{TTL: s.ttl.EntryTTL(s.ttl.UserTTL)},
		func(ctx context.Context) ([]*User, error) {
			users, err := s.repo.FindAll(ctx, f)
			if err != nil {
				return nil, internal.NewInternalError("failed to list users", err)
			}
			return users, nil
		})
}

func (s *Service) FindOne(ctx context.Context, id int64) (*User, error) {
	return cache.GetOrSet(ctx, s.cache, CacheKeyByID(id),
		cache.Options{TTL: s.ttl.EntryTTL(s.ttl.UserTTL)},
		func(ctx context.Context) (*User, error) {
			u, err := s.repo.FindByID(ctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil, internal.NewNotFoundError(
						fmt.Sprintf("user with id %d not found", id), internal.ErrCodeUserNotFound)
				}
				return nil, internal.NewInternalError("failed to fetch user", err)
			}
			return u, nil
		})
}

func (s *Service) Search(ctx context.Context, term string) ([]*User, error) {
	return cache.GetOrSet(ctx, s.cache, CacheKeySearch(term),
		cache.Options{TTL: s.ttl.EntryTTL(s.ttl.SearchTTL)},
		func(ctx context.Context) ([]*User, error) {
			users, err := s.repo.Search(ctx, term)
			if err != nil {
				return nil, internal.NewInternalError("failed to search users", err)
			}
			return users, nil
		})
}

func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	return cache.GetOrSet(ctx, s.cache, CacheKeyStats,
		cache.Options{TTL: s.ttl.EntryTTL(s.ttl.StatsTTL)},
		func(ctx context.Context) (*Stats, error) {
			total, err := s.repo.Count(ctx, Filter{})
			if err != nil {
				return nil, internal.NewInternalError("failed to count users", err)
			}
			active := true
			activeCount, err := s.repo.Count(ctx, Filter{IsActive: &active})
			if err != nil {
				return nil, internal.NewInternalError("failed to count active users", err)
			}
			byRole, err := s.repo.CountByRole(ctx)
			if err != nil {
				return nil, internal.NewInternalError("failed to count users by role", err)
			}
			return &Stats{
				Total:    total,
				Active:   activeCount,
				Inactive: total - activeCount,
				ByRole:   byRole,
			}, nil
		})
}

func (s *Service) Update(ctx context.Context, id int64, dto UpdateUserDTO) (*User, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	u, err := s.findForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.checkDuplicates(ctx, "", dto.Email, dto.Phone, id); err != nil {
		return nil, err
	}

	if dto.FullName != nil {
		u.FullName = *dto.FullName
	}
	if dto.Email != nil {
		u.Email = dto.Email
	}
	if dto.Phone != nil {
		u.Phone = dto.Phone
	}
	if dto.Role != nil {
		u.Role = *dto.Role
	}

	if err := s.repo.Update(ctx, u); err != nil {
		return nil, internal.NewInternalError("failed to update user", err)
	}

	s.invalidate(ctx, u.Username)
	s.logger.Info("user updated", "username", u.Username, "user_id", id)
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, id int64, dto ChangePasswordDTO) error {
	if err := dto.Validate(); err != nil {
		return err
	}

	u, err := s.findForUpdate(ctx, id)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(dto.OldPassword)) != nil {
		return internal.ErrWrongPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(dto.NewPassword), s.bcryptCost)
	if err != nil {
		return internal.NewInternalError("failed to hash password", err)
	}
	u.PasswordHash = string(hash)

	if err := s.repo.Update(ctx, u); err != nil {
		return internal.NewInternalError("failed to change password", err)
	}

	s.invalidate(ctx, u.Username)
	s.logger.Info("password changed", "username", u.Username, "user_id", id)
	return nil
}

// ToggleActive flips the active flag. Deactivation additionally announces
// the change so live sessions get revoked.
func (s *Service) ToggleActive(ctx context.Context, id int64) (*User, error) {
	u, err := s.findForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	u.IsActive = !u.IsActive
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, internal.NewInternalError("failed to toggle user status", err)
	}

	s.invalidate(ctx, u.Username)
	if !u.IsActive && s.events != nil {
		s.events.Publish(ctx, events.NewUserDeactivatedEvent(u.ID, u.Username))
	}
	s.logger.Info("user status toggled", "username", u.Username, "user_id", id, "is_active", u.IsActive)
	return u, nil
}

func (s *Service) Remove(ctx context.Context, id int64) error {
	u, err := s.findForUpdate(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return internal.NewInternalError("failed to delete user", err)
	}

	s.invalidate(ctx, u.Username)
	if s.events != nil {
		s.events.Publish(ctx, events.NewUserDeletedEvent(u.ID, u.Username))
	}
	s.logger.Info("user deleted", "username", u.Username, "user_id", id)
	return nil
}

// findForUpdate bypasses the cache: mutations must start from the
// authoritative record.
func (s *Service) findForUpdate(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, internal.NewNotFoundError(
				fmt.Sprintf("user with id %d not found", id), internal.ErrCodeUserNotFound)
		}
		return nil, internal.NewInternalError("failed to fetch user", err)
	}
	return u, nil
}

func (s *Service) checkDuplicates(ctx context.Context, username string, email, phone *string, excludeID int64) error {
	if username != "" {
		if existing, err := s.repo.FindByUsername(ctx, username); err == nil && existing.ID != excludeID {
			return internal.ErrUsernameTaken
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return internal.NewInternalError("failed to check username", err)
		}
	}
	if email != nil && *email != "" {
		if existing, err := s.repo.FindByEmail(ctx, *email); err == nil && existing.ID != excludeID {
			return internal.ErrEmailTaken
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return internal.NewInternalError("failed to check email", err)
		}
	}
	if phone != nil && *phone != "" {
		if existing, err := s.repo.FindByPhone(ctx, *phone); err == nil && existing.ID != excludeID {
			return internal.ErrPhoneTaken
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return internal.NewInternalError("failed to check phone", err)
		}
	}
	return nil
}

// invalidate sweeps every cached read under the users: prefix and, when a
// username is affected, the login-path credential snapshot for it.
func (s *Service) invalidate(ctx context.Context, username string) {
	s.cache.InvalidatePattern(ctx, CachePrefix+"*")
	if username != "" {
		s.cache.Delete(ctx, CredentialsCacheKey(username))
	}
}
