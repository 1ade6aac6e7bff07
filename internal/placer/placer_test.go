package placer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacmgr/pac/internal/catalog"
	"github.com/pacmgr/pac/internal/pacerr"
)

func openStore(t *testing.T) *catalog.Store {
	t.Helper()
	store, err := catalog.Open(context.Background(), filepath.Join(t.TempDir(), "pacs.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPlaceCopiesAllowedDirs(t *testing.T) {
	extracted := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(extracted, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extracted, "bin", "fish"), []byte("binary"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(extracted, "not-allowed"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extracted, "not-allowed", "junk"), []byte("x"), 0o644))

	prefix := t.TempDir()
	store := openStore(t)
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)

	p := New(prefix)
	placed, err := p.Place(context.Background(), tx, extracted, "fish")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Contains(t, placed, filepath.Join(prefix, "bin", "fish"))
	assert.NoFileExists(t, filepath.Join(prefix, "not-allowed", "junk"))

	data, err := os.ReadFile(filepath.Join(prefix, "bin", "fish"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func TestPlaceFailsOnPathConflict(t *testing.T) {
	extracted := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(extracted, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extracted, "bin", "foo"), []byte("new"), 0o755))

	prefix := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(prefix, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(prefix, "bin", "foo"), []byte("old"), 0o755))

	store := openStore(t)
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)
	_, err = tx.InsertPackage(context.Background(), catalog.InsertInput{
		Name: "other", Version: "1.0", Arch: "arm64", Prefix: prefix,
		Explicit: true, InstallTime: 1, SHA256: "a",
		InstalledFiles: []string{filepath.Join(prefix, "bin", "foo")},
	})
	require.NoError(t, err)

	p := New(prefix)
	_, err = p.Place(context.Background(), tx, extracted, "conflicting")
	require.Error(t, err)
	kind, ok := pacerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pacerr.PathConflict, kind)
}

func TestPlaceRecreatesRelativeSymlink(t *testing.T) {
	extracted := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(extracted, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extracted, "lib", "libfoo.1.dylib"), []byte("lib"), 0o644))
	require.NoError(t, os.Symlink("libfoo.1.dylib", filepath.Join(extracted, "lib", "libfoo.dylib")))

	prefix := t.TempDir()
	store := openStore(t)
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)

	p := New(prefix)
	placed, err := p.Place(context.Background(), tx, extracted, "foo")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	linkPath := filepath.Join(prefix, "lib", "libfoo.dylib")
	assert.Contains(t, placed, linkPath)
	target, err := os.Readlink(linkPath)
	require.NoError(t, err)
	assert.Equal(t, "libfoo.1.dylib", target)
}

func TestBottlePseudoDirMergesIntoRoot(t *testing.T) {
	extracted := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(extracted, ".bottle", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extracted, ".bottle", "bin", "tool"), []byte("x"), 0o755))

	prefix := t.TempDir()
	store := openStore(t)
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)

	p := New(prefix)
	placed, err := p.Place(context.Background(), tx, extracted, "tool")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Contains(t, placed, filepath.Join(prefix, "bin", "tool"))
}

func TestCACertificatesMirrorsIntoEtcAndOpensslLinkResolves(t *testing.T) {
	extracted := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(extracted, "share", "ca-certificates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(extracted, "share", "ca-certificates", "cacert.pem"), []byte("cert"), 0o644))

	prefix := t.TempDir()
	store := openStore(t)
	tx, err := store.Begin(context.Background())
	require.NoError(t, err)

	p := New(prefix)
	_, err = p.Place(context.Background(), tx, extracted, "ca-certificates")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	certPath := filepath.Join(prefix, "etc", "ca-certificates", "cacert.pem")
	assert.FileExists(t, certPath)

	tx2, err := store.Begin(context.Background())
	require.NoError(t, err)
	p2 := New(prefix)
	placed, err := p2.Place(context.Background(), tx2, t.TempDir(), "openssl@3")
	require.NoError(t, err)
	require.NoError(t, tx2.Commit())

	linkPath := filepath.Join(prefix, "etc", "openssl@3", "cert.pem")
	assert.Contains(t, placed, linkPath)
	resolved := filepath.Join(filepath.Dir(linkPath), "..", "ca-certificates", "cacert.pem")
	data, err := os.ReadFile(resolved)
	require.NoError(t, err, "openssl's cert.pem symlink must resolve to an existing ca-certificates mirror")
	assert.Equal(t, "cert", string(data))
}
