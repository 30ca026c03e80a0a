package agentapi

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMasterKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")[:32]
}

func TestBoltKeyStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.db")

	ks, err := NewBoltKeyStore(path, testMasterKey())
	require.NoError(t, err)
	defer ks.Close()

	endpoint := EndpointConfig{BaseURL: "https://api.example.com", Model: "gpt-4o", Format: FormatOpenAI}
	require.NoError(t, ks.Put(ctx, "agent-1", "super-secret-key", endpoint))

	key, err := ks.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-key", key)

	got, err := ks.EndpointConfig(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, endpoint, got)
}

func TestBoltKeyStoreUnknownAgent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.db")

	ks, err := NewBoltKeyStore(path, testMasterKey())
	require.NoError(t, err)
	defer ks.Close()

	_, err = ks.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = ks.EndpointConfig(ctx, "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestBoltKeyStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.db")
	key := testMasterKey()

	ks, err := NewBoltKeyStore(path, key)
	require.NoError(t, err)
	endpoint := EndpointConfig{BaseURL: "https://api.example.com", Format: FormatAnthropic}
	require.NoError(t, ks.Put(ctx, "agent-2", "another-secret", endpoint))
	require.NoError(t, ks.Close())

	reopened, err := NewBoltKeyStore(path, key)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "agent-2")
	require.NoError(t, err)
	assert.Equal(t, "another-secret", got)
}

func TestBoltKeyStoreRejectsWrongKeySize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.db")
	_, err := NewBoltKeyStore(path, []byte("too-short"))
	assert.Error(t, err)
}

func TestBoltKeyStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.db")

	ks, err := NewBoltKeyStore(path, testMasterKey())
	require.NoError(t, err)
	defer ks.Close()

	require.NoError(t, ks.Put(ctx, "agent-3", "first-key", EndpointConfig{Format: FormatGoogle}))
	require.NoError(t, ks.Put(ctx, "agent-3", "second-key", EndpointConfig{Format: FormatGoogle}))

	got, err := ks.Get(ctx, "agent-3")
	require.NoError(t, err)
	assert.Equal(t, "second-key", got)
}
