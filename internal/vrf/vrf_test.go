package vrf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

func TestGenerateDeterministic(t *testing.T) {
	s, err := NewSigner(testSeed)
	require.NoError(t, err)

	a := s.Generate(42, "dice-roll")
	b := s.Generate(42, "dice-roll")
	assert.Equal(t, a, b, "same request id and seed must be stable across runs")

	c := s.Generate(43, "dice-roll")
	assert.NotEqual(t, a.OutputHex, c.OutputHex, "request id is part of alpha")
}

func TestAlphaFormat(t *testing.T) {
	s, err := NewSigner(testSeed)
	require.NoError(t, err)

	r := s.Generate(7, "user-seed")
	assert.Equal(t, "vrf:7:user-seed", r.Alpha)
	assert.True(t, strings.HasPrefix(r.Alpha, "vrf:"))
}

func TestVerify(t *testing.T) {
	s, err := NewSigner(testSeed)
	require.NoError(t, err)

	r := s.Generate(1, "seed")
	assert.True(t, Verify(s.PublicKeyHex(), r))

	forged := r
	forged.Alpha = "vrf:2:seed"
	assert.False(t, Verify(s.PublicKeyHex(), forged))

	tampered := r
	tampered.OutputHex = strings.Repeat("0", 64)
	assert.False(t, Verify(s.PublicKeyHex(), tampered))
}

func TestNewSignerRejectsBadSeed(t *testing.T) {
	_, err := NewSigner("not-hex")
	assert.Error(t, err)

	_, err = NewSigner("abcd")
	assert.Error(t, err)
}
