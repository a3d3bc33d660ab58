package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownSymbols(t *testing.T) {
	r := NewSymbolResolver(nil)

	assert.Equal(t, "bitcoin", r.Resolve("BTC"))
	assert.Equal(t, "bitcoin", r.Resolve("btc"))
	assert.Equal(t, "matic-network", r.Resolve(" matic "))
	assert.Equal(t, "avalanche-2", r.Resolve("AVAX"))
}

func TestResolveUnknownFallsBackToLowercase(t *testing.T) {
	r := NewSymbolResolver(nil)

	assert.Equal(t, "pepe", r.Resolve("PEPE"))
	assert.Equal(t, "", r.Resolve(""))
}

func TestResolveAllDeduplicates(t *testing.T) {
	r := NewSymbolResolver(nil)

	ids := r.ResolveAll([]string{"ETH", "btc", "BTC", "sol", "eth"})
	assert.Equal(t, []string{"ethereum", "bitcoin", "solana"}, ids)
}

func TestLoadSymbolResolverOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.yaml")
	content := "symbols:\n  pepe: pepe-token\n  BTC: wrapped-bitcoin\n  EMPTY: \"\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := LoadSymbolResolver(path)
	require.NoError(t, err)

	assert.Equal(t, "pepe-token", r.Resolve("PEPE"))
	assert.Equal(t, "wrapped-bitcoin", r.Resolve("btc"))
	assert.Equal(t, "ethereum", r.Resolve("ETH"))
	assert.Equal(t, "empty", r.Resolve("EMPTY"))
}

func TestLoadSymbolResolverErrors(t *testing.T) {
	_, err := LoadSymbolResolver(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbols: [not, a, map"), 0o644))
	_, err = LoadSymbolResolver(path)
	require.Error(t, err)

	r, err := LoadSymbolResolver("")
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", r.Resolve("BTC"))
}
