// Package memory holds in-process repositories with the same contracts as the Postgres ones:
// version compare-and-swap, unique event sequences and one onboarding session per tenant.
// They back the service when no database is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sapphire/support-core/internal/domain"
	"github.com/sapphire/support-core/internal/repository"
)

type entityKey struct {
	typ domain.EntityType
	id  string
}

// Store is the shared state behind every memory repository. One mutex guards everything so
// a cache update and its log append are atomic.
type Store struct {
	mu sync.Mutex

	events    map[entityKey][]domain.Event
	ordered   []domain.Event
	tenants   map[string]domain.Tenant
	cases     map[string]domain.Case
	sessions  map[string]domain.OnboardingSession // by tenant id
	policies  map[string]domain.SLAPolicy
	ents      map[string]domain.Entitlement
	intakes   map[string]domain.Intake
	classes   map[string]domain.Classification
	decisions map[string]domain.RoutingDecision

	// failAppend, when set, is returned by the next append; tests use it to exercise
	// storage failures.
	failAppend error
}

// NewStore builds an empty store.
func NewStore() *Store {
	return &Store{
		events:    make(map[entityKey][]domain.Event),
		tenants:   make(map[string]domain.Tenant),
		cases:     make(map[string]domain.Case),
		sessions:  make(map[string]domain.OnboardingSession),
		policies:  make(map[string]domain.SLAPolicy),
		ents:      make(map[string]domain.Entitlement),
		intakes:   make(map[string]domain.Intake),
		classes:   make(map[string]domain.Classification),
		decisions: make(map[string]domain.RoutingDecision),
	}
}

// FailNextAppend makes the next write that appends events return err without changing state.
func (s *Store) FailNextAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppend = err
}

// Repositories returns every repository over s.
func (s *Store) Repositories() repository.Set {
	return repository.Set{
		Events:       &eventRepo{s},
		Cases:        &caseRepo{s},
		Tenants:      &tenantRepo{s},
		Onboarding:   &onboardingRepo{s},
		Entitlements: &entitlementRepo{s},
		Policies:     &policyRepo{s},
		Intakes:      &intakeRepo{s},
	}
}

// checkAppend validates events against the log; callers hold s.mu.
func (s *Store) checkAppend(events []*domain.Event) error {
	if s.failAppend != nil {
		err := s.failAppend
		s.failAppend = nil
		return err
	}
	next := make(map[entityKey]int64)
	for _, ev := range events {
		key := entityKey{ev.EntityType, ev.EntityID}
		last, ok := next[key]
		if !ok {
			last = int64(len(s.events[key]))
		}
		if ev.Sequence != last+1 {
			return repository.ErrVersionConflict
		}
		next[key] = ev.Sequence
	}
	return nil
}

// append stores events; callers hold s.mu and have run checkAppend.
func (s *Store) append(events []*domain.Event) {
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		stored := copyEvent(*ev)
		key := entityKey{ev.EntityType, ev.EntityID}
		s.events[key] = append(s.events[key], stored)
		s.ordered = append(s.ordered, stored)
	}
}

type eventRepo struct{ s *Store }

func (r *eventRepo) ListByEntity(_ context.Context, entityType domain.EntityType, entityID string) ([]domain.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	src := r.s.events[entityKey{entityType, entityID}]
	out := make([]domain.Event, 0, len(src))
	for _, ev := range src {
		out = append(out, copyEvent(ev))
	}
	return out, nil
}

func (r *eventRepo) ListByTenant(_ context.Context, tenantID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Event
	for i := len(r.s.ordered) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.ordered[i].TenantID == tenantID {
			out = append(out, copyEvent(r.s.ordered[i]))
		}
	}
	return out, nil
}

type caseRepo struct{ s *Store }

func (r *caseRepo) Create(_ context.Context, c *domain.Case, events []*domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.cases[c.ID]; ok {
		return repository.ErrAlreadyExists
	}
	if err := r.s.checkAppend(events); err != nil {
		return err
	}
	r.s.cases[c.ID] = *c
	r.s.append(events)
	return nil
}

func (r *caseRepo) Save(_ context.Context, c *domain.Case, expectedVersion int64, events []*domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.cases[c.ID]
	if !ok || current.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	if err := r.s.checkAppend(events); err != nil {
		return err
	}
	r.s.cases[c.ID] = *c
	r.s.append(events)
	return nil
}

func (r *caseRepo) GetByID(_ context.Context, id string) (*domain.Case, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.cases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *caseRepo) ListOpen(_ context.Context, afterID string, limit int) ([]*domain.Case, error) {
	if limit <= 0 {
		limit = 100
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]string, 0, len(r.s.cases))
	for id, c := range r.s.cases {
		if !c.Status.IsTerminal() && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*domain.Case, 0, len(ids))
	for _, id := range ids {
		c := r.s.cases[id]
		out = append(out, &c)
	}
	return out, nil
}

func (r *caseRepo) ListByTenant(_ context.Context, tenantID string, limit int) ([]*domain.Case, error) {
	if limit <= 0 {
		limit = 50
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.Case
	for _, c := range r.s.cases {
		if c.TenantID == tenantID {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type tenantRepo struct{ s *Store }

func (r *tenantRepo) Create(_ context.Context, t *domain.Tenant, events []*domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.tenants {
		if existing.ID == t.ID || existing.Name == t.Name {
			return repository.ErrAlreadyExists
		}
		if t.PrimaryDomain != nil && existing.PrimaryDomain != nil && *existing.PrimaryDomain == *t.PrimaryDomain {
			return repository.ErrAlreadyExists
		}
	}
	if err := r.s.checkAppend(events); err != nil {
		return err
	}
	r.s.tenants[t.ID] = copyTenant(*t)
	r.s.append(events)
	return nil
}

func (r *tenantRepo) Save(_ context.Context, t *domain.Tenant, expectedVersion int64, events []*domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.tenants[t.ID]
	if !ok || current.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	if err := r.s.checkAppend(events); err != nil {
		return err
	}
	r.s.tenants[t.ID] = copyTenant(*t)
	r.s.append(events)
	return nil
}

func (r *tenantRepo) GetByID(_ context.Context, id string) (*domain.Tenant, error) {
	return r.find(func(t domain.Tenant) bool { return t.ID == id })
}

func (r *tenantRepo) GetByDomain(_ context.Context, primaryDomain string) (*domain.Tenant, error) {
	return r.find(func(t domain.Tenant) bool {
		return t.PrimaryDomain != nil && *t.PrimaryDomain == primaryDomain
	})
}

func (r *tenantRepo) GetByName(_ context.Context, name string) (*domain.Tenant, error) {
	return r.find(func(t domain.Tenant) bool { return t.Name == name })
}

func (r *tenantRepo) find(match func(domain.Tenant) bool) (*domain.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tenants {
		if match(t) {
			out := copyTenant(t)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

type onboardingRepo struct{ s *Store }

func (r *onboardingRepo) Create(_ context.Context, session *domain.OnboardingSession, events []*domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[session.TenantID]; ok {
		return repository.ErrAlreadyExists
	}
	if err := r.s.checkAppend(events); err != nil {
		return err
	}
	assignStepIDs(session)
	r.s.sessions[session.TenantID] = copySession(*session)
	r.s.append(events)
	return nil
}

func (r *onboardingRepo) Save(_ context.Context, session *domain.OnboardingSession, expectedVersion int64, events []*domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.sessions[session.TenantID]
	if !ok || current.ID != session.ID || current.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	if err := r.s.checkAppend(events); err != nil {
		return err
	}
	assignStepIDs(session)
	r.s.sessions[session.TenantID] = copySession(*session)
	r.s.append(events)
	return nil
}

func (r *onboardingRepo) GetByTenant(_ context.Context, tenantID string) (*domain.OnboardingSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	session, ok := r.s.sessions[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copySession(session)
	return &out, nil
}

type entitlementRepo struct{ s *Store }

func (r *entitlementRepo) Upsert(_ context.Context, ent *domain.Entitlement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.ents[ent.TenantID] = copyEntitlement(*ent)
	return nil
}

func (r *entitlementRepo) Get(_ context.Context, tenantID string) (*domain.Entitlement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ent, ok := r.s.ents[tenantID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyEntitlement(ent)
	return &out, nil
}

type policyRepo struct{ s *Store }

func (r *policyRepo) GetOrCreate(_ context.Context, policy *domain.SLAPolicy) (*domain.SLAPolicy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.policies {
		if p.TenantID == policy.TenantID && p.Tier == policy.Tier {
			out := p
			return &out, nil
		}
	}
	stored := *policy
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	r.s.policies[stored.ID] = stored
	return &stored, nil
}

func (r *policyRepo) GetByID(_ context.Context, id string) (*domain.SLAPolicy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.policies[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

type intakeRepo struct{ s *Store }

func (r *intakeRepo) Create(_ context.Context, intake *domain.Intake, classification *domain.Classification, events []*domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.intakes[intake.ID]; ok {
		return repository.ErrAlreadyExists
	}
	if err := r.s.checkAppend(events); err != nil {
		return err
	}
	r.s.intakes[intake.ID] = *intake
	if classification != nil {
		c := *classification
		c.IntakeID = intake.ID
		r.s.classes[intake.ID] = c
	}
	r.s.append(events)
	return nil
}

func (r *intakeRepo) SaveDecision(_ context.Context, decision *domain.RoutingDecision, events []*domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.intakes[decision.IntakeID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.s.decisions[decision.IntakeID]; ok {
		return repository.ErrAlreadyExists
	}
	if err := r.s.checkAppend(events); err != nil {
		return err
	}
	r.s.decisions[decision.IntakeID] = *decision
	r.s.append(events)
	return nil
}

func (r *intakeRepo) GetByID(_ context.Context, id string) (*domain.Intake, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	intake, ok := r.s.intakes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &intake, nil
}

func (r *intakeRepo) GetDecision(_ context.Context, intakeID string) (*domain.RoutingDecision, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	decision, ok := r.s.decisions[intakeID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &decision, nil
}

func assignStepIDs(session *domain.OnboardingSession) {
	for i := range session.Steps {
		if session.Steps[i].ID == "" {
			session.Steps[i].ID = uuid.NewString()
		}
		session.Steps[i].SessionID = session.ID
	}
}

func copyEvent(ev domain.Event) domain.Event {
	ev.Payload = copyMap(ev.Payload)
	return ev
}

func copyTenant(t domain.Tenant) domain.Tenant {
	if t.PrimaryDomain != nil {
		d := *t.PrimaryDomain
		t.PrimaryDomain = &d
	}
	return t
}

func copySession(s domain.OnboardingSession) domain.OnboardingSession {
	steps := make([]domain.OnboardingStep, len(s.Steps))
	for i, step := range s.Steps {
		step.Metadata = copyMap(step.Metadata)
		steps[i] = step
	}
	s.Steps = steps
	return s
}

func copyEntitlement(e domain.Entitlement) domain.Entitlement {
	features := make(map[string]bool, len(e.AIFeatures))
	for k, v := range e.AIFeatures {
		features[k] = v
	}
	e.AIFeatures = features
	if e.OnboardingStatus != nil {
		status := *e.OnboardingStatus
		e.OnboardingStatus = &status
	}
	return e
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
