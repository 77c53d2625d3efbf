package endpoints

import (
	"context"

	"github.com/palisade-authz/palisade/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	List(ctx context.Context, filter Filter, limit, offset int) ([]Endpoint, int, error)
	All(ctx context.Context) ([]Endpoint, error)
}

// Service exposes read-only views over the discovered endpoint catalog.
// Writes happen only through reconciliation.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the endpoint service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns a filtered, paginated endpoint listing.
func (s *Service) List(ctx context.Context, filter Filter, page, perPage int) ([]Endpoint, shared.Pagination, error) {
	items, total, err := s.repo.List(ctx, filter, perPage, shared.Offset(page, perPage))
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, perPage, total), nil
}

// Tree groups every endpoint by resource, preserving the repository's
// (resource, path, method) ordering inside each group.
func (s *Service) Tree(ctx context.Context) ([]ResourceGroup, error) {
	all, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	var groups []ResourceGroup
	for _, e := range all {
		if len(groups) == 0 || groups[len(groups)-1].Resource != e.Resource {
			groups = append(groups, ResourceGroup{Resource: e.Resource})
		}
		last := &groups[len(groups)-1]
		last.Endpoints = append(last.Endpoints, e)
	}
	return groups, nil
}
