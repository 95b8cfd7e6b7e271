package core

import (
	"context"
	"maps"
	"testing"
	"time"
)

const (
	ownerID      = "owner"
	maintainerID = "maintainer"
	analystID    = "analyst"
)

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func (c *captureLogger) has(call string) bool {
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

// fixture is the tree
//
//	root
//	├── lab
//	│   ├── p1
//	│   └── p2
//	└── other
//	    └── p3
//
// owned by ownerID, with maintainerID a Maintainer of lab.
type fixture struct {
	ctx   context.Context
	svc   *Service
	root  Namespace
	lab   Namespace
	other Namespace
	p1    Project
	p2    Project
	p3    Project
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	ctx := context.Background()
	svc := NewInMemoryService(nil, opts...)
	f := &fixture{ctx: ctx, svc: svc}
	var err error
	if f.root, err = svc.CreateGroup(ctx, ownerID, "root", ""); err != nil {
		t.Fatalf("create root: %v", err)
	}
	if f.lab, err = svc.CreateGroup(ctx, ownerID, "lab", f.root.ID); err != nil {
		t.Fatalf("create lab: %v", err)
	}
	if f.other, err = svc.CreateGroup(ctx, ownerID, "other", f.root.ID); err != nil {
		t.Fatalf("create other: %v", err)
	}
	if f.p1, err = svc.CreateProject(ctx, ownerID, "p1", f.lab.ID); err != nil {
		t.Fatalf("create p1: %v", err)
	}
	if f.p2, err = svc.CreateProject(ctx, ownerID, "p2", f.lab.ID); err != nil {
		t.Fatalf("create p2: %v", err)
	}
	if f.p3, err = svc.CreateProject(ctx, ownerID, "p3", f.other.ID); err != nil {
		t.Fatalf("create p3: %v", err)
	}
	if _, err := svc.AddMember(ctx, ownerID, maintainerID, f.lab.ID, AccessMaintainer, nil); err != nil {
		t.Fatalf("add maintainer: %v", err)
	}
	return f
}

func (f *fixture) sample(t *testing.T, project Project, name string, metadata map[string]string) Sample {
	t.Helper()
	s, err := f.svc.CreateSample(f.ctx, ownerID, project.ID, SampleInput{Name: name, Metadata: metadata})
	if err != nil {
		t.Fatalf("create sample %s: %v", name, err)
	}
	return s
}

func (f *fixture) namespace(t *testing.T, id string) Namespace {
	t.Helper()
	var ns Namespace
	if err := f.svc.Store().View(f.ctx, func(v TransactionView) error {
		var ok bool
		if ns, ok = v.FindNamespace(id); !ok {
			return ErrNotFound{Entity: EntityNamespace, ID: id}
		}
		return nil
	}); err != nil {
		t.Fatalf("find namespace: %v", err)
	}
	return ns
}

func (f *fixture) project(t *testing.T, id string) Project {
	t.Helper()
	var p Project
	if err := f.svc.Store().View(f.ctx, func(v TransactionView) error {
		var ok bool
		if p, ok = v.FindProject(id); !ok {
			return ErrNotFound{Entity: EntityProject, ID: id}
		}
		return nil
	}); err != nil {
		t.Fatalf("find project: %v", err)
	}
	return p
}

func (f *fixture) stored(t *testing.T, id string) Sample {
	t.Helper()
	var s Sample
	if err := f.svc.Store().View(f.ctx, func(v TransactionView) error {
		var ok bool
		if s, ok = v.FindSample(id); !ok {
			return ErrNotFound{Entity: EntitySample, ID: id}
		}
		return nil
	}); err != nil {
		t.Fatalf("find sample: %v", err)
	}
	return s
}

func (f *fixture) activities(t *testing.T, namespaceID string) []Activity {
	t.Helper()
	var out []Activity
	_ = f.svc.Store().View(f.ctx, func(v TransactionView) error {
		out = v.ListActivities(namespaceID)
		return nil
	})
	return out
}

type aggregateSnapshot struct {
	count   int
	summary map[string]int
}

// aggregates captures every namespace's counters.
func (f *fixture) aggregates(t *testing.T) map[string]aggregateSnapshot {
	t.Helper()
	out := make(map[string]aggregateSnapshot)
	_ = f.svc.Store().View(f.ctx, func(v TransactionView) error {
		for _, ns := range v.ListNamespaces() {
			out[ns.ID] = aggregateSnapshot{count: ns.SamplesCount, summary: maps.Clone(ns.MetadataSummary)}
		}
		return nil
	})
	return out
}

// assertCountInvariant checks every namespace and project against the live
// sample population.
func assertCountInvariant(t *testing.T, f *fixture) {
	t.Helper()
	err := f.svc.Store().View(f.ctx, func(v TransactionView) error {
		var truth func(ns Namespace) aggregateSnapshot
		truth = func(ns Namespace) aggregateSnapshot {
			out := aggregateSnapshot{summary: map[string]int{}}
			if ns.Kind == NamespaceProjectKind {
				p, _ := v.FindProjectByNamespace(ns.ID)
				samples := v.ListProjectSamples(p.ID)
				out.count = len(samples)
				for _, s := range samples {
					for _, k := range s.MetadataKeys() {
						out.summary[k]++
					}
				}
				if p.SamplesCount != out.count {
					t.Errorf("project %s count %d, want %d", p.Name, p.SamplesCount, out.count)
				}
				return out
			}
			for _, child := range v.ListChildNamespaces(ns.ID) {
				sub := truth(child)
				out.count += sub.count
				for k, c := range sub.summary {
					out.summary[k] += c
				}
			}
			return out
		}
		for _, ns := range v.ListNamespaces() {
			want := truth(ns)
			if ns.SamplesCount != want.count {
				t.Errorf("namespace %s count %d, want %d", ns.Name, ns.SamplesCount, want.count)
			}
			if !maps.Equal(nonZero(ns.MetadataSummary), want.summary) {
				t.Errorf("namespace %s summary %v, want %v", ns.Name, ns.MetadataSummary, want.summary)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
