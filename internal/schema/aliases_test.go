package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAliasOverrides_BlankPathIsNoOp(t *testing.T) {
	assert.NoError(t, LoadAliasOverrides(""))
}

func TestLoadAliasOverrides_MergesIntoStaticAliasTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aliases.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"coin_symbol": "symbol"}`), 0644))

	require.NoError(t, LoadAliasOverrides(path))
	defer delete(staticAliases, "coin_symbol")

	target, ok := staticAliases["coin_symbol"]
	require.True(t, ok)
	assert.Equal(t, "symbol", target)
	assert.Equal(t, 1.0, similarity("coin_symbol", "symbol"))
}

func TestLoadAliasOverrides_MissingFileReturnsError(t *testing.T) {
	assert.Error(t, LoadAliasOverrides(filepath.Join(t.TempDir(), "missing.json")))
}

func TestLoadAliasOverrides_MalformedJSONReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aliases.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0644))

	assert.Error(t, LoadAliasOverrides(path))
}
