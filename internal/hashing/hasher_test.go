package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackychef/auth-service/internal/config"
)

func testHasher() *Hasher {
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Pepper = "test-pepper"
	return NewHasher(cfg)
}

func TestHashAndVerifyPassword(t *testing.T) {
	h := testHasher()

	res, err := h.HashPassword("secret1")
	require.NoError(t, err)
	require.NotEmpty(t, res.Hash)
	require.NotEmpty(t, res.Salt)
	assert.Equal(t, algorithmID, res.Algorithm)

	ok, err := h.VerifyPassword("secret1", res)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("wrong-password", res)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher()

	a, err := h.HashPassword("secret1")
	require.NoError(t, err)
	b, err := h.HashPassword("secret1")
	require.NoError(t, err)

	assert.NotEqual(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Salt, b.Salt)
}

func TestPurposeSeparation(t *testing.T) {
	h := testHasher()

	asPassword, err := h.HashPassword("123456")
	require.NoError(t, err)

	// The same input hashed as an OTP must not verify as a password.
	ok, err := h.VerifyOTP("123456", asPassword)
	require.NoError(t, err)
	assert.False(t, ok)

	asOTP, err := h.HashOTP("123456")
	require.NoError(t, err)
	ok, err = h.VerifyOTP("123456", asOTP)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnknownPepperVersion(t *testing.T) {
	h := testHasher()

	res, err := h.HashOTP("654321")
	require.NoError(t, err)
	res.PepperVersion = 99

	_, err = h.VerifyOTP("654321", res)
	assert.ErrorIs(t, err, ErrUnknownPepper)
}

func TestPepperRotationKeepsOldHashesVerifiable(t *testing.T) {
	h := testHasher()

	old, err := h.HashPassword("secret1")
	require.NoError(t, err)

	h.AddPepper(2, "rotated-pepper")

	ok, err := h.VerifyPassword("secret1", old)
	require.NoError(t, err)
	assert.True(t, ok)

	fresh, err := h.HashPassword("secret1")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.PepperVersion)
}
