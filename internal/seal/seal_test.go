package seal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/near-outlayer/execution-plane/internal/errs"
)

func TestSealRoundTrip(t *testing.T) {
	s, err := New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	sealed, err := s.Seal("proj-1", "alice.near", []byte(`{"count":1}`))
	require.NoError(t, err)

	plain, err := s.Open("proj-1", "alice.near", sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"count":1}`), plain)
}

func TestOpenDetectsTampering(t *testing.T) {
	s, err := New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	sealed, err := s.Seal("proj-1", "alice.near", []byte("sealed state"))
	require.NoError(t, err)

	// Flip a single bit anywhere in the ciphertext.
	for i := range sealed {
		mutated := append([]byte(nil), sealed...)
		mutated[i] ^= 0x01
		_, err := s.Open("proj-1", "alice.near", mutated)
		if !errors.Is(err, errs.ErrIntegrity) {
			t.Fatalf("bit flip at offset %d not detected, got %v", i, err)
		}
	}
}

func TestNamespaceIsolation(t *testing.T) {
	s, err := New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	sealed, err := s.Seal("proj-1", "alice.near", []byte("secret"))
	require.NoError(t, err)

	_, err = s.Open("proj-2", "alice.near", sealed)
	assert.ErrorIs(t, err, errs.ErrIntegrity)

	_, err = s.Open("proj-1", "bob.near", sealed)
	assert.ErrorIs(t, err, errs.ErrIntegrity)
}

func TestRejectsShortMasterKey(t *testing.T) {
	_, err := New([]byte("short"))
	assert.Error(t, err)
}

func TestKeyHashStable(t *testing.T) {
	assert.Equal(t, KeyHash("counter"), KeyHash("counter"))
	assert.NotEqual(t, KeyHash("counter"), KeyHash("counter2"))
	assert.Len(t, KeyHash("counter"), 64)
}
