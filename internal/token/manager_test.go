package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.AccessTTL = 0
	_, err = NewManager(cfg)
	assert.Error(t, err)

	_, err = NewManager(testConfig())
	assert.NoError(t, err)
}

func TestIssueAndVerifyAccess(t *testing.T) {
	m, err := NewManager(testConfig())
	require.NoError(t, err)

	tok, err := m.IssueAccess("user-123")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	userID, err := m.VerifyAccess(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestIssueAndVerifyRefresh(t *testing.T) {
	m, err := NewManager(testConfig())
	require.NoError(t, err)

	tok, err := m.IssueRefresh("user-123")
	require.NoError(t, err)

	userID, err := m.VerifyRefresh(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestAccessTokenRejectedOnRefreshChannel(t *testing.T) {
	m, err := NewManager(testConfig())
	require.NoError(t, err)

	access, err := m.IssueAccess("user-123")
	require.NoError(t, err)

	_, err = m.VerifyRefresh(access)
	assert.ErrorIs(t, err, ErrInvalidToken)

	refresh, err := m.IssueRefresh("user-123")
	require.NoError(t, err)

	_, err = m.VerifyAccess(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestWrongSecretRejected(t *testing.T) {
	m1, err := NewManager(testConfig())
	require.NoError(t, err)

	other := testConfig()
	other.AccessSecret = []byte("a-completely-different-secret")
	m2, err := NewManager(other)
	require.NoError(t, err)

	tok, err := m1.IssueAccess("user-123")
	require.NoError(t, err)

	_, err = m2.VerifyAccess(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	cfg := testConfig()
	cfg.AccessTTL = -1 * time.Minute
	m := &Manager{config: cfg}

	tok, err := m.IssueAccess("user-123")
	require.NoError(t, err)

	_, err = m.VerifyAccess(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMalformedTokenRejected(t *testing.T) {
	m, err := NewManager(testConfig())
	require.NoError(t, err)

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, err := m.VerifyAccess(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}
