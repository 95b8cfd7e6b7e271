// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"samplecore/pkg/domain"
	"sort"
	"strings"
	"sync"
	"time"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Namespace aliases domain.Namespace for in-memory persistence operations.
	Namespace = domain.Namespace
	// Project aliases domain.Project.
	Project = domain.Project
	// Sample aliases domain.Sample.
	Sample = domain.Sample
	// Attachment aliases domain.Attachment.
	Attachment = domain.Attachment
	// Membership aliases domain.Membership.
	Membership = domain.Membership
	// Activity aliases domain.Activity.
	Activity = domain.Activity
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	namespaces  map[string]Namespace
	projects    map[string]Project
	samples     map[string]Sample
	attachments map[string]Attachment
	memberships map[string]Membership
	activities  map[string]Activity
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Namespaces  map[string]Namespace  `json:"namespaces"`
	Projects    map[string]Project    `json:"projects"`
	Samples     map[string]Sample     `json:"samples"`
	Attachments map[string]Attachment `json:"attachments"`
	Memberships map[string]Membership `json:"memberships"`
	Activities  map[string]Activity   `json:"activities"`
}

func newMemoryState() memoryState {
	return memoryState{
		namespaces:  make(map[string]Namespace),
		projects:    make(map[string]Project),
		samples:     make(map[string]Sample),
		attachments: make(map[string]Attachment),
		memberships: make(map[string]Membership),
		activities:  make(map[string]Activity),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Namespaces:  c.namespaces,
		Projects:    c.projects,
		Samples:     c.samples,
		Attachments: c.attachments,
		Memberships: c.memberships,
		Activities:  c.activities,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Namespaces {
		if v.MetadataSummary == nil {
			v.MetadataSummary = map[string]int{}
		}
		state.namespaces[k] = cloneNamespace(v)
	}
	for k, v := range s.Projects {
		state.projects[k] = v
	}
	for k, v := range s.Samples {
		state.samples[k] = cloneSample(v)
	}
	for k, v := range s.Attachments {
		state.attachments[k] = v
	}
	for k, v := range s.Memberships {
		state.memberships[k] = cloneMembership(v)
	}
	for k, v := range s.Activities {
		state.activities[k] = cloneActivity(v)
	}
	return state
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		namespaces:  make(map[string]Namespace, len(s.namespaces)),
		projects:    make(map[string]Project, len(s.projects)),
		samples:     make(map[string]Sample, len(s.samples)),
		attachments: make(map[string]Attachment, len(s.attachments)),
		memberships: make(map[string]Membership, len(s.memberships)),
		activities:  make(map[string]Activity, len(s.activities)),
	}
	for k, v := range s.namespaces {
		cloned.namespaces[k] = cloneNamespace(v)
	}
	for k, v := range s.projects {
		cloned.projects[k] = v
	}
	for k, v := range s.samples {
		cloned.samples[k] = cloneSample(v)
	}
	for k, v := range s.attachments {
		cloned.attachments[k] = v
	}
	for k, v := range s.memberships {
		cloned.memberships[k] = cloneMembership(v)
	}
	for k, v := range s.activities {
		cloned.activities[k] = cloneActivity(v)
	}
	return cloned
}

func cloneNamespace(n Namespace) Namespace {
	cp := n
	if n.ParentID != nil {
		parent := *n.ParentID
		cp.ParentID = &parent
	}
	cp.MetadataSummary = make(map[string]int, len(n.MetadataSummary))
	for k, v := range n.MetadataSummary {
		cp.MetadataSummary[k] = v
	}
	return cp
}

func cloneSample(s Sample) Sample {
	cp := s
	cp.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		cp.Metadata[k] = v
	}
	cp.MetadataProvenance = make(map[string]domain.Provenance, len(s.MetadataProvenance))
	for k, v := range s.MetadataProvenance {
		cp.MetadataProvenance[k] = v
	}
	if s.DeletedAt != nil {
		t := *s.DeletedAt
		cp.DeletedAt = &t
	}
	return cp
}

func cloneMembership(m Membership) Membership {
	cp := m
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		cp.ExpiresAt = &t
	}
	return cp
}

func cloneActivity(a Activity) Activity {
	cp := a
	cp.Payload.Entities = append([]domain.ActivityEntity(nil), a.Payload.Entities...)
	cp.Payload.Added = append([]string(nil), a.Payload.Added...)
	cp.Payload.Updated = append([]string(nil), a.Payload.Updated...)
	cp.Payload.Deleted = append([]string(nil), a.Payload.Deleted...)
	return cp
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc replaces the time provider used to stamp created/updated times.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Registered rules are evaluated against the copy before it replaces the
// committed state; blocking violations discard the copy.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(newTransactionView(&snapshot))
}

type transaction struct {
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

func (v transactionView) ListNamespaces() []Namespace {
	out := make([]Namespace, 0, len(v.state.namespaces))
	for _, n := range v.state.namespaces {
		out = append(out, cloneNamespace(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListChildNamespaces(parentID string) []Namespace {
	var out []Namespace
	for _, n := range v.state.namespaces {
		if n.ParentID != nil && *n.ParentID == parentID {
			out = append(out, cloneNamespace(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindNamespace(id string) (Namespace, bool) {
	n, ok := v.state.namespaces[id]
	if !ok {
		return Namespace{}, false
	}
	return cloneNamespace(n), true
}

func (v transactionView) ListProjects() []Project {
	out := make([]Project, 0, len(v.state.projects))
	for _, p := range v.state.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindProject(id string) (Project, bool) {
	p, ok := v.state.projects[id]
	return p, ok
}

func (v transactionView) FindProjectByNamespace(namespaceID string) (Project, bool) {
	for _, p := range v.state.projects {
		if p.NamespaceID == namespaceID {
			return p, true
		}
	}
	return Project{}, false
}

func (v transactionView) FindSample(id string) (Sample, bool) {
	s, ok := v.state.samples[id]
	if !ok {
		return Sample{}, false
	}
	return cloneSample(s), true
}

func (v transactionView) ListProjectSamples(projectID string) []Sample {
	var out []Sample
	for _, s := range v.state.samples {
		if s.ProjectID == projectID && s.Live() {
			out = append(out, cloneSample(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (v transactionView) FindLiveSamplesByName(projectID string, names []string) []Sample {
	if len(names) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}
	var out []Sample
	for _, s := range v.state.samples {
		if s.ProjectID != projectID || !s.Live() {
			continue
		}
		if _, ok := wanted[s.Name]; ok {
			out = append(out, cloneSample(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindAttachment(id string) (Attachment, bool) {
	a, ok := v.state.attachments[id]
	return a, ok
}

func (v transactionView) ListAttachments(sampleID string) []Attachment {
	var out []Attachment
	for _, a := range v.state.attachments {
		if a.SampleID == sampleID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListMemberships(userID string) []Membership {
	var out []Membership
	for _, m := range v.state.memberships {
		if m.UserID == userID {
			out = append(out, cloneMembership(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListActivities(namespaceID string) []Activity {
	var out []Activity
	for _, a := range v.state.activities {
		if a.NamespaceID == namespaceID {
			out = append(out, cloneActivity(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateNamespace stores a new group or project namespace.
func (tx *transaction) CreateNamespace(n Namespace) (Namespace, error) {
	if n.ID == "" {
		n.ID = domain.NewID()
	}
	if _, exists := tx.state.namespaces[n.ID]; exists {
		return Namespace{}, fmt.Errorf("namespace %q already exists", n.ID)
	}
	if strings.TrimSpace(n.Name) == "" {
		return Namespace{}, errors.New("namespace requires name")
	}
	switch n.Kind {
	case domain.NamespaceGroup, domain.NamespaceProject:
	default:
		return Namespace{}, fmt.Errorf("namespace kind %q invalid", n.Kind)
	}
	if err := tx.checkParent(n); err != nil {
		return Namespace{}, err
	}
	if n.PUID == "" {
		prefix := domain.PUIDPrefixGroup
		if n.Kind == domain.NamespaceProject {
			prefix = domain.PUIDPrefixProject
		}
		n.PUID = domain.NewPUID(prefix)
	}
	if n.MetadataSummary == nil {
		n.MetadataSummary = map[string]int{}
	}
	n.CreatedAt = tx.now
	n.UpdatedAt = tx.now
	tx.state.namespaces[n.ID] = cloneNamespace(n)
	tx.recordChange(Change{Entity: domain.EntityNamespace, Action: domain.ActionCreate, After: cloneNamespace(n)})
	return cloneNamespace(n), nil
}

func (tx *transaction) checkParent(n Namespace) error {
	if n.IsRoot() {
		if n.Kind == domain.NamespaceProject {
			return errors.New("project namespace requires parent group")
		}
		return nil
	}
	parent, ok := tx.state.namespaces[*n.ParentID]
	if !ok {
		return fmt.Errorf("parent namespace %q not found", *n.ParentID)
	}
	if !parent.IsGroup() {
		return fmt.Errorf("parent namespace %q is not a group", parent.ID)
	}
	return nil
}

// UpdateNamespace mutates an existing namespace.
func (tx *transaction) UpdateNamespace(id string, mutator func(*Namespace) error) (Namespace, error) {
	current, ok := tx.state.namespaces[id]
	if !ok {
		return Namespace{}, fmt.Errorf("namespace %q not found", id)
	}
	before := cloneNamespace(current)
	current = cloneNamespace(current)
	if err := mutator(&current); err != nil {
		return Namespace{}, err
	}
	current.ID = id
	current.Kind = before.Kind
	if err := tx.checkParent(current); err != nil {
		return Namespace{}, err
	}
	current.UpdatedAt = tx.now
	tx.state.namespaces[id] = cloneNamespace(current)
	tx.recordChange(Change{Entity: domain.EntityNamespace, Action: domain.ActionUpdate, Before: before, After: cloneNamespace(current)})
	return cloneNamespace(current), nil
}

// CreateProject stores a project owned by an existing project namespace.
func (tx *transaction) CreateProject(p Project) (Project, error) {
	if p.ID == "" {
		p.ID = domain.NewID()
	}
	if _, exists := tx.state.projects[p.ID]; exists {
		return Project{}, fmt.Errorf("project %q already exists", p.ID)
	}
	ns, ok := tx.state.namespaces[p.NamespaceID]
	if !ok {
		return Project{}, fmt.Errorf("namespace %q not found for project", p.NamespaceID)
	}
	if ns.Kind != domain.NamespaceProject {
		return Project{}, fmt.Errorf("namespace %q is not a project namespace", ns.ID)
	}
	if _, taken := newTransactionView(&tx.state).FindProjectByNamespace(ns.ID); taken {
		return Project{}, fmt.Errorf("namespace %q already owns a project", ns.ID)
	}
	if p.Name == "" {
		p.Name = ns.Name
	}
	if p.PUID == "" {
		p.PUID = ns.PUID
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.projects[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdateProject mutates an existing project.
func (tx *transaction) UpdateProject(id string, mutator func(*Project) error) (Project, error) {
	current, ok := tx.state.projects[id]
	if !ok {
		return Project{}, fmt.Errorf("project %q not found", id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Project{}, err
	}
	current.ID = id
	current.NamespaceID = before.NamespaceID
	current.UpdatedAt = tx.now
	tx.state.projects[id] = current
	tx.recordChange(Change{Entity: domain.EntityProject, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateSample stores a new sample record.
func (tx *transaction) CreateSample(s Sample) (Sample, error) {
	if s.ID == "" {
		s.ID = domain.NewID()
	}
	if _, exists := tx.state.samples[s.ID]; exists {
		return Sample{}, fmt.Errorf("sample %q already exists", s.ID)
	}
	if strings.TrimSpace(s.Name) == "" {
		return Sample{}, errors.New("sample requires name")
	}
	if _, ok := tx.state.projects[s.ProjectID]; !ok {
		return Sample{}, fmt.Errorf("project %q not found for sample", s.ProjectID)
	}
	if s.PUID == "" {
		s.PUID = domain.NewPUID(domain.PUIDPrefixSample)
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	s = cloneSample(s)
	tx.state.samples[s.ID] = s
	tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionCreate, After: cloneSample(s)})
	return cloneSample(s), nil
}

// UpdateSample mutates an existing sample.
func (tx *transaction) UpdateSample(id string, mutator func(*Sample) error) (Sample, error) {
	current, ok := tx.state.samples[id]
	if !ok {
		return Sample{}, fmt.Errorf("sample %q not found", id)
	}
	before := cloneSample(current)
	current = cloneSample(current)
	if err := mutator(&current); err != nil {
		return Sample{}, err
	}
	if strings.TrimSpace(current.Name) == "" {
		return Sample{}, errors.New("sample requires name")
	}
	if _, ok := tx.state.projects[current.ProjectID]; !ok {
		return Sample{}, fmt.Errorf("project %q not found for sample", current.ProjectID)
	}
	current.ID = id
	current.PUID = before.PUID
	current.UpdatedAt = tx.now
	tx.state.samples[id] = cloneSample(current)
	tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionUpdate, Before: before, After: cloneSample(current)})
	return cloneSample(current), nil
}

// ReassignSamples performs the conditional bulk project reassignment.
func (tx *transaction) ReassignSamples(ids []string, fromProjectID, toProjectID string) ([]string, error) {
	if _, ok := tx.state.projects[toProjectID]; !ok {
		return nil, fmt.Errorf("project %q not found", toProjectID)
	}
	var moved []string
	for _, id := range dedupeStrings(ids) {
		current, ok := tx.state.samples[id]
		if !ok || !current.Live() || current.ProjectID != fromProjectID {
			continue
		}
		before := cloneSample(current)
		current = cloneSample(current)
		current.ProjectID = toProjectID
		current.UpdatedAt = tx.now
		tx.state.samples[id] = current
		tx.recordChange(Change{Entity: domain.EntitySample, Action: domain.ActionUpdate, Before: before, After: cloneSample(current)})
		moved = append(moved, id)
	}
	return moved, nil
}

// CreateAttachment links a stored blob to a sample.
func (tx *transaction) CreateAttachment(a Attachment) (Attachment, error) {
	if a.ID == "" {
		a.ID = domain.NewID()
	}
	if _, exists := tx.state.attachments[a.ID]; exists {
		return Attachment{}, fmt.Errorf("attachment %q already exists", a.ID)
	}
	if _, ok := tx.state.samples[a.SampleID]; !ok {
		return Attachment{}, fmt.Errorf("sample %q not found for attachment", a.SampleID)
	}
	if a.BlobKey == "" {
		return Attachment{}, errors.New("attachment requires blob key")
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.attachments[a.ID] = a
	tx.recordChange(Change{Entity: domain.EntityAttachment, Action: domain.ActionCreate, After: a})
	return a, nil
}

// CreateMembership grants a user access at a namespace.
func (tx *transaction) CreateMembership(m Membership) (Membership, error) {
	if m.ID == "" {
		m.ID = domain.NewID()
	}
	if m.UserID == "" {
		return Membership{}, errors.New("membership requires user id")
	}
	if _, ok := tx.state.namespaces[m.NamespaceID]; !ok {
		return Membership{}, fmt.Errorf("namespace %q not found for membership", m.NamespaceID)
	}
	for _, existing := range tx.state.memberships {
		if existing.UserID == m.UserID && existing.NamespaceID == m.NamespaceID {
			return Membership{}, fmt.Errorf("user %q is already a member of %q", m.UserID, m.NamespaceID)
		}
	}
	m.CreatedAt = tx.now
	m.UpdatedAt = tx.now
	tx.state.memberships[m.ID] = cloneMembership(m)
	tx.recordChange(Change{Entity: domain.EntityMembership, Action: domain.ActionCreate, After: cloneMembership(m)})
	return cloneMembership(m), nil
}

// CreateActivity appends an audit record to a namespace.
func (tx *transaction) CreateActivity(a Activity) (Activity, error) {
	if a.ID == "" {
		a.ID = domain.NewID()
	}
	if a.Key == "" {
		return Activity{}, errors.New("activity requires key")
	}
	if _, ok := tx.state.namespaces[a.NamespaceID]; !ok {
		return Activity{}, fmt.Errorf("namespace %q not found for activity", a.NamespaceID)
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.activities[a.ID] = cloneActivity(a)
	tx.recordChange(Change{Entity: domain.EntityActivity, Action: domain.ActionCreate, After: cloneActivity(a)})
	return cloneActivity(a), nil
}
