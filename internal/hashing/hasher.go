package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/snackychef/auth-service/internal/config"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrUnknownPepper       = errors.New("pepper version not found")
	ErrUnsupportedAlgoritm = errors.New("unsupported hash algorithm")
)

const algorithmID = "argon2id-v1"

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// HashResult is a single hashed credential. The pieces are persisted as
// separate columns so the parameters can evolve without re-encoding old
// rows.
type HashResult struct {
	Hash          string
	Salt          string
	PepperVersion int
	Algorithm     string
}

// Hasher derives argon2id hashes for passwords and OTP codes. The pepper
// comes from configuration so password hashes stay verifiable across
// process restarts; when unset (development) an ephemeral pepper is
// generated at startup.
type Hasher struct {
	params  Argon2Params
	peppers map[int]string
	current int
	mu      sync.RWMutex
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  32,
		KeyLength:   32,
	}

	pepper := cfg.Hashing.Pepper
	if pepper == "" {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			panic("failed to generate ephemeral pepper: " + err.Error())
		}
		pepper = base64.RawURLEncoding.EncodeToString(raw)
	}

	return &Hasher{
		params:  params,
		peppers: map[int]string{1: pepper},
		current: 1,
	}
}

// AddPepper registers an old pepper version for verification after a
// rotation. The highest version becomes the hashing pepper.
func (h *Hasher) AddPepper(version int, pepper string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peppers[version] = pepper
	if version > h.current {
		h.current = version
	}
}

// HashPassword derives the stored form of a plaintext password.
func (h *Hasher) HashPassword(password string) (*HashResult, error) {
	return h.hashWithPepper(password, "password")
}

// VerifyPassword reports whether password matches the stored hash.
func (h *Hasher) VerifyPassword(password string, stored *HashResult) (bool, error) {
	return h.verifyWithPepper(password, stored, "password")
}

// HashOTP derives the stored form of a verification code.
func (h *Hasher) HashOTP(code string) (*HashResult, error) {
	return h.hashWithPepper(code, "otp")
}

// VerifyOTP reports whether code matches the stored hash.
func (h *Hasher) VerifyOTP(code string, stored *HashResult) (bool, error) {
	return h.verifyWithPepper(code, stored, "otp")
}

// hashWithPepper mixes a purpose string into the input so a hash created
// for one credential type can never verify as another.
func (h *Hasher) hashWithPepper(data, purpose string) (*HashResult, error) {
	h.mu.RLock()
	version := h.current
	pepper := h.peppers[version]
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(data+pepper+purpose),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: version,
		Algorithm:     algorithmID,
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, stored *HashResult, purpose string) (bool, error) {
	if stored.Algorithm != algorithmID {
		return false, ErrUnsupportedAlgoritm
	}

	h.mu.RLock()
	pepper, ok := h.peppers[stored.PepperVersion]
	h.mu.RUnlock()
	if !ok {
		return false, ErrUnknownPepper
	}

	salt, err := base64.RawURLEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawURLEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey(
		[]byte(data+pepper+purpose),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
