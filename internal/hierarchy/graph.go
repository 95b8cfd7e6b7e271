// Package hierarchy provides the namespace tree traversal used on the
// aggregate-maintenance hot path. Ancestor chains are cached per namespace;
// namespaces never change parent, so a cached chain stays valid until the
// namespace is removed or the cache is purged.
package hierarchy

import (
	"errors"
	"fmt"
	"samplecore/pkg/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of cached ancestor chains.
const DefaultCacheSize = 4096

var (
	// ErrUnknownNamespace is returned when a namespace id does not resolve.
	ErrUnknownNamespace = errors.New("hierarchy: unknown namespace")
	// ErrCycle is returned when parent links loop back on themselves.
	ErrCycle = errors.New("hierarchy: parent cycle")
)

// Source is the read access the graph needs. domain.TransactionView satisfies it.
type Source interface {
	FindNamespace(id string) (domain.Namespace, bool)
	ListChildNamespaces(parentID string) []domain.Namespace
}

// Graph answers ancestor and descendant queries over a Source.
type Graph struct {
	ancestors *lru.Cache[string, []string]
}

// New constructs a graph with an ancestor cache of the given size.
func New(size int) (*Graph, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("ancestor cache: %w", err)
	}
	return &Graph{ancestors: cache}, nil
}

// MustNew is New for static sizes.
func MustNew(size int) *Graph {
	g, err := New(size)
	if err != nil {
		panic(err)
	}
	return g
}

// Ancestors returns the chain from namespaceID up to the root, starting with
// namespaceID itself. The returned slice must not be modified.
func (g *Graph) Ancestors(src Source, namespaceID string) ([]string, error) {
	if chain, ok := g.ancestors.Get(namespaceID); ok {
		return chain, nil
	}
	var chain []string
	seen := make(map[string]struct{})
	current := namespaceID
	for {
		if _, loop := seen[current]; loop {
			return nil, fmt.Errorf("%w at %s", ErrCycle, current)
		}
		seen[current] = struct{}{}
		ns, ok := src.FindNamespace(current)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, current)
		}
		chain = append(chain, ns.ID)
		if ns.IsRoot() {
			break
		}
		if cached, ok := g.ancestors.Get(*ns.ParentID); ok {
			chain = append(chain, cached...)
			break
		}
		current = *ns.ParentID
	}
	g.ancestors.Add(namespaceID, chain)
	return chain, nil
}

// Contains reports whether namespaceID lies in the subtree rooted at rootID
// (inclusive).
func (g *Graph) Contains(src Source, rootID, namespaceID string) (bool, error) {
	chain, err := g.Ancestors(src, namespaceID)
	if err != nil {
		return false, err
	}
	for _, id := range chain {
		if id == rootID {
			return true, nil
		}
	}
	return false, nil
}

// Descendants returns rootID and every namespace below it in breadth-first
// order.
func (g *Graph) Descendants(src Source, rootID string) ([]domain.Namespace, error) {
	root, ok := src.FindNamespace(rootID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNamespace, rootID)
	}
	out := []domain.Namespace{root}
	seen := map[string]struct{}{root.ID: {}}
	for i := 0; i < len(out); i++ {
		if !out[i].IsGroup() {
			continue
		}
		for _, child := range src.ListChildNamespaces(out[i].ID) {
			if _, dup := seen[child.ID]; dup {
				return nil, fmt.Errorf("%w at %s", ErrCycle, child.ID)
			}
			seen[child.ID] = struct{}{}
			out = append(out, child)
		}
	}
	return out, nil
}

// ProjectNamespaces returns the project-namespace leaves under rootID.
func (g *Graph) ProjectNamespaces(src Source, rootID string) ([]domain.Namespace, error) {
	all, err := g.Descendants(src, rootID)
	if err != nil {
		return nil, err
	}
	leaves := all[:0:0]
	for _, ns := range all {
		if ns.Kind == domain.NamespaceProject {
			leaves = append(leaves, ns)
		}
	}
	return leaves, nil
}

// Invalidate drops the cached chains of the given namespaces.
func (g *Graph) Invalidate(ids ...string) {
	for _, id := range ids {
		g.ancestors.Remove(id)
	}
}

// Purge empties the cache.
func (g *Graph) Purge() { g.ancestors.Purge() }

// Len reports the number of cached chains.
func (g *Graph) Len() int { return g.ancestors.Len() }
