package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/palisade-authz/palisade/internal/policy"
	"github.com/palisade-authz/palisade/internal/registry"
)

// Orphan is a persisted permission rule that no longer matches any declared
// endpoint. Reconciliation reports orphans but never deletes them; removal
// is an operator decision.
type Orphan struct {
	Subject  string `json:"subject"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Domain   string `json:"domain"`
}

// Report summarizes one reconciliation pass.
type Report struct {
	EndpointsInserted int      `json:"endpoints_inserted"`
	EndpointsUpdated  int      `json:"endpoints_updated"`
	GrantsAdded       int      `json:"grants_added"`
	Orphans           []Orphan `json:"orphans"`
}

func (r Report) String() string {
	return fmt.Sprintf("endpoints: %d inserted, %d updated; grants added: %d; orphans: %d",
		r.EndpointsInserted, r.EndpointsUpdated, r.GrantsAdded, len(r.Orphans))
}

// EndpointSink persists discovered endpoints.
type EndpointSink interface {
	Upsert(ctx context.Context, e registry.Endpoint) (inserted bool, err error)
}

// PolicyPort is the slice of the policy store reconciliation needs.
type PolicyPort interface {
	PermissionsForSubject(subject, domain string) ([]policy.Tuple, error)
	AddPolicies(tuples []policy.Tuple) error
	Policies() ([]policy.Tuple, error)
}

// Service synchronizes the declared route surface into the endpoint catalog
// and the policy engine. Every write is additive: endpoints are upserted,
// missing super-role grants are inserted, and stale rules are only reported.
type Service struct {
	logger    *slog.Logger
	registry  *registry.Registry
	sink      EndpointSink
	policy    PolicyPort
	superRole string
	domain    string
}

// NewService constructs the reconciliation service. superRole receives a
// grant for every discovered (resource, action) pair in domain.
func NewService(logger *slog.Logger, reg *registry.Registry, sink EndpointSink, pol PolicyPort, superRole, domain string) *Service {
	return &Service{
		logger:    logger,
		registry:  reg,
		sink:      sink,
		policy:    pol,
		superRole: superRole,
		domain:    domain,
	}
}

// Reconcile runs one full pass and returns its report. A second pass over
// an unchanged route surface is a no-op apart from endpoint timestamp
// refreshes.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	endpoints := s.registry.Collect()

	var report Report
	for _, e := range endpoints {
		inserted, err := s.sink.Upsert(ctx, e)
		if err != nil {
			return report, fmt.Errorf("reconcile: %w", err)
		}
		if inserted {
			report.EndpointsInserted++
		} else {
			report.EndpointsUpdated++
		}
	}

	added, err := s.ensureSuperGrants(endpoints)
	if err != nil {
		return report, err
	}
	report.GrantsAdded = added

	orphans, err := s.findOrphans(endpoints)
	if err != nil {
		return report, err
	}
	report.Orphans = orphans
	for _, o := range orphans {
		s.logger.Warn("orphaned permission rule",
			slog.String("subject", o.Subject),
			slog.String("resource", o.Resource),
			slog.String("action", o.Action),
			slog.String("domain", o.Domain))
	}

	s.logger.Info("reconciliation complete", slog.String("report", report.String()))
	return report, nil
}

func (s *Service) ensureSuperGrants(endpoints []registry.Endpoint) (int, error) {
	existing, err := s.policy.PermissionsForSubject(s.superRole, s.domain)
	if err != nil {
		return 0, fmt.Errorf("reconcile: super role grants: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		have[t.Object+"\x00"+t.Action] = struct{}{}
	}

	seen := make(map[string]struct{})
	var missing []policy.Tuple
	for _, e := range endpoints {
		key := e.Resource + "\x00" + e.Action
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := have[key]; ok {
			continue
		}
		missing = append(missing, policy.NewGrant(s.superRole, e.Resource, e.Action, s.domain))
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if err := s.policy.AddPolicies(missing); err != nil {
		return 0, fmt.Errorf("reconcile: add super role grants: %w", err)
	}
	return len(missing), nil
}

func (s *Service) findOrphans(endpoints []registry.Endpoint) ([]Orphan, error) {
	declared := make(map[string]struct{}, len(endpoints))
	for _, e := range endpoints {
		declared[e.Resource+"\x00"+e.Action] = struct{}{}
	}

	rules, err := s.policy.Policies()
	if err != nil {
		return nil, fmt.Errorf("reconcile: list policies: %w", err)
	}
	var orphans []Orphan
	for _, t := range rules {
		if _, ok := declared[t.Object+"\x00"+t.Action]; ok {
			continue
		}
		orphans = append(orphans, Orphan{
			Subject:  t.Subject,
			Resource: t.Object,
			Action:   t.Action,
			Domain:   t.Domain,
		})
	}
	return orphans, nil
}
