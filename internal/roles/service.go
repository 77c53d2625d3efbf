package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested role does not exist.
	ErrNotFound = errors.New("roles: not found")
	// ErrDuplicateCode indicates a role with the same code already exists in the domain.
	ErrDuplicateCode = errors.New("roles: duplicate code")
	// ErrParentNotFound indicates the referenced parent role does not exist.
	ErrParentNotFound = errors.New("roles: parent role not found")
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	List(ctx context.Context, domain string) ([]Role, error)
	Get(ctx context.Context, id string) (Role, error)
	Create(ctx context.Context, role Role) (Role, error)
	Update(ctx context.Context, role Role) (Role, error)
	Delete(ctx context.Context, id string) error
}

// PolicyPort covers the policy-engine mutations role lifecycle requires.
type PolicyPort interface {
	AddRoleForUser(userID, roleID, domain string) error
	DeleteRoleForUser(userID, roleID, domain string) error
	RemoveSubject(subject, domain string) error
}

// CachePort invalidates cached role sets when role definitions change.
type CachePort interface {
	InvalidateDomain(ctx context.Context, domain string) error
}

// Service handles role lifecycle. Role hierarchy is mirrored into the policy
// engine as g-rules so child roles inherit parent grants within the domain.
type Service struct {
	repo   RepositoryPort
	policy PolicyPort
	cache  CachePort
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, policy PolicyPort, cache CachePort, logger *slog.Logger) *Service {
	return &Service{repo: repo, policy: policy, cache: cache, logger: logger}
}

// List returns all roles within a domain.
func (s *Service) List(ctx context.Context, domain string) ([]Role, error) {
	return s.repo.List(ctx, domain)
}

// Get fetches a single role.
func (s *Service) Get(ctx context.Context, id string) (Role, error) {
	return s.repo.Get(ctx, id)
}

// CreateRoleInput carries role creation parameters.
type CreateRoleInput struct {
	Code     string
	Name     string
	Domain   string
	ParentID *string
}

// Create inserts a new role and, when a parent is given, records the
// inheritance g-rule in the policy engine.
func (s *Service) Create(ctx context.Context, in CreateRoleInput) (Role, error) {
	code := strings.TrimSpace(in.Code)
	name := strings.TrimSpace(in.Name)
	if code == "" {
		return Role{}, errors.New("roles: code required")
	}
	if name == "" {
		return Role{}, errors.New("roles: name required")
	}
	if in.Domain == "" {
		return Role{}, errors.New("roles: domain required")
	}
	if in.ParentID != nil {
		if err := s.checkParent(ctx, *in.ParentID, in.Domain); err != nil {
			return Role{}, err
		}
	}

	role := Role{
		ID:       uuid.NewString(),
		Code:     code,
		Name:     name,
		Status:   StatusEnabled,
		ParentID: in.ParentID,
		Domain:   in.Domain,
	}
	created, err := s.repo.Create(ctx, role)
	if err != nil {
		return Role{}, err
	}

	if in.ParentID != nil {
		if err := s.policy.AddRoleForUser(created.ID, *in.ParentID, created.Domain); err != nil {
			return Role{}, fmt.Errorf("roles: record inheritance: %w", err)
		}
	}
	return created, nil
}

// UpdateRoleInput carries role mutation parameters.
type UpdateRoleInput struct {
	ID       string
	Name     string
	Status   Status
	ParentID *string
}

// Update modifies a role. Parent changes swap the inheritance g-rule; any
// change invalidates the domain's cached role sets since role status gates
// the authoritative lookup.
func (s *Service) Update(ctx context.Context, in UpdateRoleInput) (Role, error) {
	existing, err := s.repo.Get(ctx, in.ID)
	if err != nil {
		return Role{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, errors.New("roles: name required")
	}
	if in.Status != StatusEnabled && in.Status != StatusDisabled {
		return Role{}, fmt.Errorf("roles: invalid status %q", in.Status)
	}
	if in.ParentID != nil && !parentEqual(existing.ParentID, in.ParentID) {
		if err := s.checkParent(ctx, *in.ParentID, existing.Domain); err != nil {
			return Role{}, err
		}
	}

	updated, err := s.repo.Update(ctx, Role{ID: in.ID, Name: name, Status: in.Status, ParentID: in.ParentID})
	if err != nil {
		return Role{}, err
	}

	if !parentEqual(existing.ParentID, in.ParentID) {
		if existing.ParentID != nil {
			if err := s.policy.DeleteRoleForUser(existing.ID, *existing.ParentID, existing.Domain); err != nil {
				return Role{}, fmt.Errorf("roles: drop inheritance: %w", err)
			}
		}
		if in.ParentID != nil {
			if err := s.policy.AddRoleForUser(existing.ID, *in.ParentID, existing.Domain); err != nil {
				return Role{}, fmt.Errorf("roles: record inheritance: %w", err)
			}
		}
	}

	s.invalidateDomain(ctx, existing.Domain)
	return updated, nil
}

// Delete removes a role after cascade-cleaning its policy rules, user
// assignments and menu links. The whole domain cache is invalidated since
// the affected user set is unknown.
func (s *Service) Delete(ctx context.Context, id string) error {
	role, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.policy.RemoveSubject(role.ID, role.Domain); err != nil {
		return fmt.Errorf("roles: clean policy rules: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateDomain(ctx, role.Domain)
	return nil
}

func (s *Service) checkParent(ctx context.Context, parentID, domain string) error {
	parent, err := s.repo.Get(ctx, parentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrParentNotFound
		}
		return err
	}
	if parent.Domain != domain {
		return fmt.Errorf("%w: parent belongs to domain %s", ErrParentNotFound, parent.Domain)
	}
	return nil
}

func (s *Service) invalidateDomain(ctx context.Context, domain string) {
	if err := s.cache.InvalidateDomain(ctx, domain); err != nil {
		s.logger.Warn("domain cache invalidation failed",
			slog.String("domain", domain), slog.Any("error", err))
	}
}

func parentEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
