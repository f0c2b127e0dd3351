package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noetl/core/internal/catalog"
)

const samplePlaybook = `
catalog_id: weather/daily
path: weather/daily
start: fetch
steps:
  fetch:
    desc: call the weather API
    tool:
      kind: http
      spec:
        method: GET
        url: "https://example.com/weather"
    next:
      - step: done
  done:
    desc: terminal step
`

func writeCatalogFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFileLoader_LoadDecodesYAML(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "weather_daily.yaml", samplePlaybook)

	loader := catalog.NewFileLoader(dir)
	pb, err := loader.Load("weather_daily")
	require.NoError(t, err)
	require.Equal(t, "weather/daily", pb.CatalogID)
	require.Equal(t, "fetch", pb.Start)
	require.Contains(t, pb.Steps, "fetch")
	require.Equal(t, "http", pb.Steps["fetch"].Tool.Kind)
	require.Len(t, pb.Steps["fetch"].Next, 1)
	require.Equal(t, "done", pb.Steps["fetch"].Next[0].Step)
}

func TestFileLoader_LoadCachesResult(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "weather_daily.yaml", samplePlaybook)

	loader := catalog.NewFileLoader(dir)
	first, err := loader.Load("weather_daily")
	require.NoError(t, err)

	// Mutate the file on disk; a cached loader should not notice.
	writeCatalogFile(t, dir, "weather_daily.yaml", "catalog_id: changed\nstart: x\nsteps: {}\n")
	second, err := loader.Load("weather_daily")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, "weather/daily", second.CatalogID)
}

func TestFileLoader_LoadMissingCatalog(t *testing.T) {
	loader := catalog.NewFileLoader(t.TempDir())
	_, err := loader.Load("does-not-exist")
	require.Error(t, err)
}

func TestFileLoader_LoadEmptyCatalogID(t *testing.T) {
	loader := catalog.NewFileLoader(t.TempDir())
	_, err := loader.Load("")
	require.Error(t, err)
}
