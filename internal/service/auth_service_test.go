package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snackychef/auth-service/internal/config"
	"github.com/snackychef/auth-service/internal/encryption"
	"github.com/snackychef/auth-service/internal/hashing"
	"github.com/snackychef/auth-service/internal/model"
	"github.com/snackychef/auth-service/internal/token"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User // by id
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*model.User{}}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email || u.Username == user.Username {
			return model.ErrDuplicate
		}
	}
	cp := *user
	r.users[user.UserID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, userID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, model.ErrNotFound
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, model.ErrNotFound
}

func (r *fakeUserRepo) MarkVerified(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	u.IsVerified = true
	return nil
}

func (r *fakeUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[user.UserID]
	if !ok {
		return model.ErrNotFound
	}
	u.Name = user.Name
	u.CookieEssential = user.CookieEssential
	u.CookieAnalytics = user.CookieAnalytics
	u.PhoneEncrypted = user.PhoneEncrypted
	u.PhoneDEK = user.PhoneDEK
	u.PhoneKeyID = user.PhoneKeyID
	return nil
}

func (r *fakeUserRepo) HealthCheck(ctx context.Context) error { return nil }

type fakeOTPRepo struct {
	mu      sync.Mutex
	records map[string][]*model.OTPRecord
}

func newFakeOTPRepo() *fakeOTPRepo {
	return &fakeOTPRepo{records: map[string][]*model.OTPRecord{}}
}

func (r *fakeOTPRepo) Create(ctx context.Context, otp *model.OTPRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *otp
	r.records[otp.UserID] = append(r.records[otp.UserID], &cp)
	return nil
}

func (r *fakeOTPRepo) ListByUser(ctx context.Context, userID string) ([]*model.OTPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.OTPRecord(nil), r.records[userID]...), nil
}

func (r *fakeOTPRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, userID)
	return nil
}

type fakeAttempts struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{counts: map[string]int{}}
}

func (a *fakeAttempts) IncrementAttempts(ctx context.Context, userID string, ttl time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[userID]++
	return a.counts[userID], nil
}

func (a *fakeAttempts) ResetAttempts(ctx context.Context, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.counts, userID)
	return nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func (m *fakeMailer) lastBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].body
}

type fakeEvents struct {
	mu     sync.Mutex
	events []model.AuthEvent
}

func (e *fakeEvents) Record(ctx context.Context, event model.AuthEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *fakeEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.EventType)
	}
	return out
}

type fixture struct {
	svc      *AuthService
	users    *fakeUserRepo
	otps     *fakeOTPRepo
	attempts *fakeAttempts
	mail     *fakeMailer
	events   *fakeEvents
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.Pepper = "test-pepper"
	cfg.OTP.TTL = 5 * time.Minute
	cfg.OTP.MaxAttempts = 3
	cfg.Token.AccessSecret = "access-secret"
	cfg.Token.RefreshSecret = "refresh-secret"
	cfg.Token.AccessTTL = 15 * time.Minute

	tokens, err := token.NewManager(token.Config{
		AccessSecret:  []byte(cfg.Token.AccessSecret),
		RefreshSecret: []byte(cfg.Token.RefreshSecret),
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL(),
	})
	require.NoError(t, err)

	f := &fixture{
		users:    newFakeUserRepo(),
		otps:     newFakeOTPRepo(),
		attempts: newFakeAttempts(),
		mail:     &fakeMailer{},
		events:   &fakeEvents{},
		cfg:      cfg,
	}
	f.svc = NewAuthService(
		f.users, f.otps, f.attempts,
		hashing.NewHasher(cfg), tokens, f.mail, f.events,
		encryption.NewManager(cfg, nil), cfg,
	)
	return f
}

func extractOTP(t *testing.T, body string) string {
	t.Helper()
	start := strings.Index(body, "<b>")
	end := strings.Index(body, "</b>")
	require.Greater(t, start, -1)
	require.Greater(t, end, start)
	return body[start+3 : end]
}

func signupInput() SignupInput {
	return SignupInput{
		Username:      "chefmarco",
		Email:         "Marco@Example.COM",
		Password:      "s3cret-pasta",
		Name:          "Marco",
		TermsAccepted: true,
	}
}

func (f *fixture) signupAndVerify(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	userID, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	code := extractOTP(t, f.mail.lastBody())
	require.NoError(t, f.svc.VerifyEmail(ctx, userID, code))
	return userID
}

func TestSignupCreatesUnverifiedUserAndMailsCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	user, err := f.users.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.False(t, user.IsVerified)
	assert.Equal(t, "marco@example.com", user.Email, "email is case-normalized")
	assert.NotEqual(t, "s3cret-pasta", user.PasswordHash)

	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "marco@example.com", f.mail.sent[0].to)
	code := extractOTP(t, f.mail.lastBody())
	assert.Len(t, code, 6)

	records, err := f.otps.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotEqual(t, code, records[0].OTPHash, "codes are stored hashed")

	assert.Contains(t, f.events.types(), model.EventSignup)
}

func TestSignupDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	in := signupInput()
	in.Username = "otherchef"
	_, err = f.svc.Signup(ctx, in)
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestSignupDuplicateUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	in := signupInput()
	in.Email = "other@example.com"
	_, err = f.svc.Signup(ctx, in)
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := signupInput()
	in.Password = ""
	_, err := f.svc.Signup(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidInput)

	in = signupInput()
	in.Email = "not-an-email"
	_, err = f.svc.Signup(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestVerifyEmailHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)
	code := extractOTP(t, f.mail.lastBody())

	require.NoError(t, f.svc.VerifyEmail(ctx, userID, code))

	user, err := f.users.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.True(t, user.IsVerified)

	records, err := f.otps.ListByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, records, "all codes consumed on success")

	assert.Contains(t, f.events.types(), model.EventEmailVerified)
}

func TestVerifyEmailWrongCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)
	code := extractOTP(t, f.mail.lastBody())

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, userID, wrong), ErrInvalidOTP)

	user, err := f.users.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.False(t, user.IsVerified)
}

func TestVerifyEmailExpiredCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)
	code := extractOTP(t, f.mail.lastBody())

	// Push the stored record past its expiry.
	f.otps.mu.Lock()
	for _, rec := range f.otps.records[userID] {
		rec.ExpiresAt = time.Now().UTC().Add(-time.Second)
	}
	f.otps.mu.Unlock()

	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, userID, code), ErrInvalidOTP)
}

func TestVerifyEmailUnknownUser(t *testing.T) {
	f := newFixture(t)
	err := f.svc.VerifyEmail(context.Background(), "no-such-user", "123456")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyEmailSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)
	code := extractOTP(t, f.mail.lastBody())

	require.NoError(t, f.svc.VerifyEmail(ctx, userID, code))
	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, userID, code), ErrInvalidOTP)
}

func TestVerifyEmailRetrySignupNewestCodeWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)
	firstCode := extractOTP(t, f.mail.lastBody())

	// A second outstanding code for the same user.
	user, err := f.users.GetByID(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, f.svc.issueOTP(ctx, user))
	secondCode := extractOTP(t, f.mail.lastBody())

	// Either outstanding code verifies.
	require.NoError(t, f.svc.VerifyEmail(ctx, userID, secondCode))

	// And the older one died with it.
	if firstCode != secondCode {
		assert.ErrorIs(t, f.svc.VerifyEmail(ctx, userID, firstCode), ErrInvalidOTP)
	}
}

func TestVerifyEmailLockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	userID, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)
	code := extractOTP(t, f.mail.lastBody())

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	for i := 0; i < f.cfg.OTP.MaxAttempts; i++ {
		assert.ErrorIs(t, f.svc.VerifyEmail(ctx, userID, wrong), ErrInvalidOTP)
	}

	// Over the limit even the right code is refused.
	assert.ErrorIs(t, f.svc.VerifyEmail(ctx, userID, code), ErrTooManyAttempts)
}

func TestLoginByEmail(t *testing.T) {
	f := newFixture(t)
	userID := f.signupAndVerify(t)
	ctx := context.Background()

	pair, err := f.svc.Login(ctx, LoginInput{Identifier: "marco@example.com", Password: "s3cret-pasta"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	_ = userID
	assert.Contains(t, f.events.types(), model.EventLoginSuccess)
}

func TestLoginByUsername(t *testing.T) {
	f := newFixture(t)
	f.signupAndVerify(t)

	pair, err := f.svc.Login(context.Background(), LoginInput{Identifier: "chefmarco", Password: "s3cret-pasta"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	f.signupAndVerify(t)

	_, err := f.svc.Login(context.Background(), LoginInput{Identifier: "marco@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Contains(t, f.events.types(), model.EventLoginFailed)
}

func TestLoginUnknownUser(t *testing.T) {
	f := newFixture(t)

	// An unknown identifier must read exactly like a wrong password.
	_, err := f.svc.Login(context.Background(), LoginInput{Identifier: "ghost@example.com", Password: "whatever"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NotErrorIs(t, err, ErrUserNotFound)
}

func TestLoginUnverifiedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, LoginInput{Identifier: "marco@example.com", Password: "s3cret-pasta"})
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestLoginUnverifiedWrongPasswordReadsAsInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	// Password is checked before the verification state.
	_, err = f.svc.Login(ctx, LoginInput{Identifier: "marco@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAccessTokenCarriesUserID(t *testing.T) {
	f := newFixture(t)
	userID := f.signupAndVerify(t)

	pair, err := f.svc.Login(context.Background(), LoginInput{Identifier: "marco@example.com", Password: "s3cret-pasta"})
	require.NoError(t, err)

	tokens, err := token.NewManager(token.Config{
		AccessSecret:  []byte(f.cfg.Token.AccessSecret),
		RefreshSecret: []byte(f.cfg.Token.RefreshSecret),
		AccessTTL:     f.cfg.Token.AccessTTL,
		RefreshTTL:    f.cfg.Token.RefreshTTL(),
	})
	require.NoError(t, err)

	got, err := tokens.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	// Refresh token never passes the access check.
	_, err = tokens.VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestGetProfileOmitsSecrets(t *testing.T) {
	f := newFixture(t)
	userID := f.signupAndVerify(t)

	profile, err := f.svc.GetProfile(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "chefmarco", profile.Username)
	assert.Equal(t, "marco@example.com", profile.Email)
	assert.True(t, profile.IsVerified)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	userID := f.signupAndVerify(t)
	ctx := context.Background()

	analytics := true
	profile, err := f.svc.UpdateProfile(ctx, userID, ProfileUpdate{
		Name:            "Chef Marco",
		Phone:           "+15551234567",
		CookieAnalytics: &analytics,
	})
	require.NoError(t, err)
	assert.Equal(t, "Chef Marco", profile.Name)
	assert.Equal(t, "+15551234567", profile.Phone)

	// Phone lands encrypted in storage.
	user, err := f.users.GetByID(ctx, userID)
	require.NoError(t, err)
	assert.NotEmpty(t, user.PhoneEncrypted)
	assert.NotContains(t, string(user.PhoneEncrypted), "15551234567")
	assert.True(t, user.CookieAnalytics)
}

func TestGenerateOTPFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := generateOTP()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9')
		}
	}
}
