package resolver

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacmgr/pac/internal/pacerr"
	"github.com/pacmgr/pac/internal/remoteindex"
)

type fixtureFetcher struct {
	mu    sync.Mutex
	calls int
	index map[string]*remoteindex.PackageMetadata
}

func (f *fixtureFetcher) Fetch(ctx context.Context, name string) (*remoteindex.PackageMetadata, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	meta, ok := f.index[name]
	if !ok {
		return nil, pacerr.New(pacerr.NotFound, name)
	}
	return meta, nil
}

func TestResolveFishPostOrder(t *testing.T) {
	fetcher := &fixtureFetcher{index: map[string]*remoteindex.PackageMetadata{
		"fish":   {Name: "fish", Dependencies: []string{"pcre2", "gettext"}},
		"pcre2":  {Name: "pcre2"},
		"gettext": {Name: "gettext"},
	}}

	plan, err := Resolve(context.Background(), fetcher, "fish")
	require.NoError(t, err)
	require.Len(t, plan, 3)

	names := make([]string, len(plan))
	for i, p := range plan {
		names[i] = p.Name
	}
	assert.Equal(t, "fish", names[2], "fish must come last")
	assert.ElementsMatch(t, []string{"pcre2", "gettext"}, names[:2])
}

func TestResolveDetectsCycle(t *testing.T) {
	fetcher := &fixtureFetcher{index: map[string]*remoteindex.PackageMetadata{
		"a": {Name: "a", Dependencies: []string{"b"}},
		"b": {Name: "b", Dependencies: []string{"a"}},
	}}

	_, err := Resolve(context.Background(), fetcher, "a")
	require.Error(t, err)
	kind, ok := pacerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pacerr.CycleInDependencies, kind)
}

func TestResolveSharesCacheAcrossDiamond(t *testing.T) {
	fetcher := &fixtureFetcher{index: map[string]*remoteindex.PackageMetadata{
		"top":    {Name: "top", Dependencies: []string{"left", "right"}},
		"left":   {Name: "left", Dependencies: []string{"shared"}},
		"right":  {Name: "right", Dependencies: []string{"shared"}},
		"shared": {Name: "shared"},
	}}

	plan, err := Resolve(context.Background(), fetcher, "top")
	require.NoError(t, err)
	require.Len(t, plan, 4, "shared appears exactly once despite two dependents")

	sharedCount := 0
	for _, p := range plan {
		if p.Name == "shared" {
			sharedCount++
		}
	}
	assert.Equal(t, 1, sharedCount)
}

func TestResolveMissingDependencyFails(t *testing.T) {
	fetcher := &fixtureFetcher{index: map[string]*remoteindex.PackageMetadata{
		"fish": {Name: "fish", Dependencies: []string{"ghost"}},
	}}

	_, err := Resolve(context.Background(), fetcher, "fish")
	require.Error(t, err)
	kind, ok := pacerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pacerr.NotFound, kind)
}
