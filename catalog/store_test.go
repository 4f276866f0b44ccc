package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/polestream/errors"
)

func TestFileStore_LoadMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "catalog.json"))
	_, err := s.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestFileStore_SaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "catalog.json")
	s := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []byte(`{"owner":"a"}`)))
	require.NoError(t, s.Save(ctx, []byte(`{"owner":"b"}`)))

	data, err := s.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"owner":"b"}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed away")
}

func TestFileStore_BacksRegistry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.json")

	r, err := NewRegistry(ctx, NewFileStore(path))
	require.NoError(t, err)
	_, err = r.RegisterGateway(ctx, "gateway_45.07.0", "Piemonte", GatewayFields{})
	require.NoError(t, err)
	_, err = r.RegisterPole(ctx, "gateway_45.07.0", PoleSpec{ID: "p1", Lat: ptr(45.0), Long: ptr(7.0)})
	require.NoError(t, err)

	reopened, err := NewRegistry(ctx, NewFileStore(path))
	require.NoError(t, err)
	active, err := reopened.GetPoleStatus("p1")
	require.NoError(t, err)
	assert.True(t, active)
}

func TestFileStore_SaveFailureSurfacesAsUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	// The parent "directory" is a regular file, so nothing can be created.
	s := NewFileStore(filepath.Join(blocker, "catalog.json"))
	err := s.Save(context.Background(), []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestReadSeed_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	doc := `{"owner":"ops","topic":{"writer":["poleData"]},"regions":[{"name":"Test","minLat":1,"maxLat":2,"minLon":1,"maxLon":2}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	seed, err := ReadSeed(path)
	require.NoError(t, err)
	assert.Equal(t, "ops", seed.Owner)
	require.Len(t, seed.Regions, 1)
	assert.Equal(t, "Test", seed.Regions[0].Name)
	assert.Equal(t, []string{"poleData"}, seed.Topics["writer"])
	assert.NotNil(t, seed.Gateways)
	assert.Equal(t, DefaultSnapshot().CentralBroker, seed.CentralBroker)
}

func TestReadSeed_Errors(t *testing.T) {
	_, err := ReadSeed(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.IsInvalid(err))

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = ReadSeed(path)
	assert.Equal(t, errors.KindInvalidArgument, errors.KindOf(err))
}
