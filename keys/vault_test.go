package keys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateRoundTrip(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	v := NewVault(dir)
	created, err := v.LoadOrCreate("hunter2")
	require.NoError(t, err)

	// A second load returns the same key, not a fresh one.
	loaded, err := NewVault(dir).LoadOrCreate("hunter2")
	assert.NoError(err)
	assert.Equal(created.Serialize(), loaded.Serialize())
}

func TestWrongPassphrase(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	_, err := NewVault(dir).LoadOrCreate("right")
	require.NoError(t, err)

	_, err = NewVault(dir).LoadOrCreate("wrong")
	assert.ErrorIs(err, ErrCorruptKeyFile)
}

func TestKeyFileIsSealed(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	v := NewVault(dir)
	priv, err := v.LoadOrCreate("")
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, keyFileName))
	require.NoError(t, err)
	assert.NotContains(string(raw), string(priv.Serialize()))
}

func TestCorruptKeyFile(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), []byte("garbage"), 0o600))
	_, err := NewVault(dir).LoadOrCreate("")
	assert.ErrorIs(err, ErrCorruptKeyFile)
}
