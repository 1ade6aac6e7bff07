// Package resolver turns a root formula into a topologically ordered
// install plan, fetching missing metadata along the way and fanning out
// concurrent lookups for a node's uncached dependencies.
package resolver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pacmgr/pac/internal/pacerr"
	"github.com/pacmgr/pac/internal/remoteindex"
)

// Fetcher is the subset of remoteindex.Client the resolver depends on,
// narrowed so tests can supply a fixture index.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (*remoteindex.PackageMetadata, error)
}

// visitState tracks a node's position in the iterative depth-first walk.
type visitState int

const (
	unvisited visitState = iota
	onPath
	done
)

// frame is one entry of the explicit DFS stack, replacing the call-stack
// recursion a recursive resolver would otherwise use.
type frame struct {
	name  string
	enter bool // true = Enter event, false = Exit event
}

// Resolve returns an install plan in post-order (every dependency appears
// before its dependent) for the formula named root. Metadata is fetched
// lazily and cached by name for the duration of one call; cycles fail
// with pacerr.CycleInDependencies.
func Resolve(ctx context.Context, fetcher Fetcher, root string) ([]*remoteindex.PackageMetadata, error) {
	cache := map[string]*remoteindex.PackageMetadata{}
	states := map[string]visitState{}
	var plan []*remoteindex.PackageMetadata

	stack := []frame{{name: root, enter: true}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !f.enter {
			states[f.name] = done
			plan = append(plan, cache[f.name])
			continue
		}

		switch states[f.name] {
		case done:
			continue
		case onPath:
			return nil, pacerr.New(pacerr.CycleInDependencies, f.name)
		}
		states[f.name] = onPath

		meta, err := fetchCached(ctx, fetcher, cache, f.name)
		if err != nil {
			return nil, err
		}

		uncached := make([]string, 0, len(meta.Dependencies))
		for _, dep := range meta.Dependencies {
			if _, ok := cache[dep]; !ok {
				uncached = append(uncached, dep)
			}
		}
		if err := fetchAll(ctx, fetcher, cache, uncached); err != nil {
			return nil, err
		}

		// Exit(f.name) must run after every dependency's Enter/Exit pair,
		// so it goes on the stack first; dependencies are pushed in
		// reverse declared order so they pop in declared order.
		stack = append(stack, frame{name: f.name, enter: false})
		for i := len(meta.Dependencies) - 1; i >= 0; i-- {
			dep := meta.Dependencies[i]
			if states[dep] != done {
				stack = append(stack, frame{name: dep, enter: true})
			}
		}
	}

	return plan, nil
}

// fetchCached returns the cached metadata for name, fetching it first if
// absent.
func fetchCached(ctx context.Context, fetcher Fetcher, cache map[string]*remoteindex.PackageMetadata, name string) (*remoteindex.PackageMetadata, error) {
	if meta, ok := cache[name]; ok {
		return meta, nil
	}
	meta, err := fetcher.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	cache[name] = meta
	return meta, nil
}

// fetchAll resolves every name in parallel, writing results into cache.
// It amortizes network latency across a node's uncached direct
// dependencies before the traversal descends into any of them.
func fetchAll(ctx context.Context, fetcher Fetcher, cache map[string]*remoteindex.PackageMetadata, names []string) error {
	if len(names) == 0 {
		return nil
	}

	results := make([]*remoteindex.PackageMetadata, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			meta, err := fetcher.Fetch(gctx, name)
			if err != nil {
				return err
			}
			results[i] = meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, name := range names {
		cache[name] = results[i]
	}
	return nil
}
