package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snackychef/auth-service/internal/config"
	"github.com/snackychef/auth-service/internal/encryption"
	"github.com/snackychef/auth-service/internal/hashing"
	"github.com/snackychef/auth-service/internal/mailer"
	"github.com/snackychef/auth-service/internal/model"
	"github.com/snackychef/auth-service/internal/token"
	"github.com/snackychef/auth-service/internal/util"
)

// Service-level sentinels. The handler maps these onto HTTP statuses.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrInvalidOTP         = errors.New("otp is invalid or expired")
	ErrTooManyAttempts    = errors.New("too many verification attempts")
)

// SignupInput is the new-account request after transport decoding.
type SignupInput struct {
	Username        string
	Email           string
	Password        string
	Name            string
	Phone           string
	TermsAccepted   bool
	CookieEssential bool
	CookieAnalytics bool
}

// LoginInput identifies the account by a single identifier, matched
// against email and username, plus the password.
type LoginInput struct {
	Identifier string
	Password   string
}

// TokenPair is the result of a successful login. The refresh token is
// delivered only via cookie; the access token only in the body.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// ProfileUpdate carries the mutable account fields.
type ProfileUpdate struct {
	Name            string
	Phone           string
	CookieEssential *bool
	CookieAnalytics *bool
}

// Profile is the sanitized account view returned to clients. It never
// carries hashes or encrypted blobs.
type Profile struct {
	UserID     string `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	IsVerified bool   `json:"isVerified"`
}

// AuthService implements signup, email verification, login and profile
// management.
type AuthService struct {
	users      model.UserRepository
	otps       model.OTPRepository
	attempts   model.OTPAttemptCache
	hasher     *hashing.Hasher
	tokens     *token.Manager
	mail       model.EmailSender
	events     model.EventSink
	encryption *encryption.Manager
	cfg        *config.Config
}

func NewAuthService(
	users model.UserRepository,
	otps model.OTPRepository,
	attempts model.OTPAttemptCache,
	hasher *hashing.Hasher,
	tokens *token.Manager,
	mail model.EmailSender,
	events model.EventSink,
	enc *encryption.Manager,
	cfg *config.Config,
) *AuthService {
	return &AuthService{
		users:      users,
		otps:       otps,
		attempts:   attempts,
		hasher:     hasher,
		tokens:     tokens,
		mail:       mail,
		events:     events,
		encryption: enc,
		cfg:        cfg,
	}
}

// Signup creates an unverified account and mails a verification code.
// The returned id is the handle the client passes back to VerifyEmail.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (string, error) {
	in.Username = util.SanitizeInput(in.Username)
	in.Email = util.NormalizeEmail(in.Email)
	in.Name = util.SanitizeInput(in.Name)

	if in.Username == "" || in.Email == "" || in.Password == "" {
		return "", fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}
	if !strings.Contains(in.Email, "@") {
		return "", fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}

	// Friendly pre-check; the storage-layer uniqueness claim below is the
	// actual guarantee under concurrent signups.
	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return "", ErrUserExists
	} else if !errors.Is(err, model.ErrNotFound) {
		return "", fmt.Errorf("check existing email: %w", err)
	}

	pw, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		UserID:          uuid.New().String(),
		Username:        in.Username,
		Email:           in.Email,
		Name:            in.Name,
		PasswordHash:    pw.Hash,
		PasswordSalt:    pw.Salt,
		PepperVersion:   pw.PepperVersion,
		HashAlgorithm:   pw.Algorithm,
		IsVerified:      false,
		TermsAccepted:   in.TermsAccepted,
		CookieEssential: in.CookieEssential,
		CookieAnalytics: in.CookieAnalytics,
	}
	if in.TermsAccepted {
		now := time.Now().UTC()
		user.TermsAcceptedAt = &now
	}
	if in.Phone != "" {
		if err := s.attachPhone(ctx, user, in.Phone); err != nil {
			return "", err
		}
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrDuplicate) {
			return "", ErrUserExists
		}
		return "", fmt.Errorf("create user: %w", err)
	}

	if err := s.issueOTP(ctx, user); err != nil {
		// The account exists but the code never went out; the client can
		// retry signup to get a fresh code mailed.
		util.Error("failed to issue verification code",
			util.String("user_id", user.UserID), util.ErrorField(err))
		return "", err
	}

	s.events.Record(ctx, model.AuthEvent{
		UserID:    user.UserID,
		EventType: model.EventSignup,
	})

	util.Info("user signed up", util.String("user_id", user.UserID))
	return user.UserID, nil
}

// VerifyEmail checks a code against the user's outstanding ones. A code
// that does not match and a code past its expiry produce the same error,
// so a caller cannot probe which codes exist.
func (s *AuthService) VerifyEmail(ctx context.Context, userID, code string) error {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return fmt.Errorf("%w: user id and otp are required", ErrInvalidInput)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}

	count, err := s.attempts.IncrementAttempts(ctx, userID, s.cfg.OTP.TTL)
	if err != nil {
		// Counting failures must not block verification when Redis is down.
		util.Warn("otp attempt counter unavailable", util.ErrorField(err))
	} else if count > s.cfg.OTP.MaxAttempts {
		return ErrTooManyAttempts
	}

	records, err := s.otps.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list otps: %w", err)
	}

	now := time.Now().UTC()
	matched := false
	for _, rec := range records {
		ok, err := s.hasher.VerifyOTP(code, &hashing.HashResult{
			Hash:          rec.OTPHash,
			Salt:          rec.OTPSalt,
			PepperVersion: rec.PepperVersion,
			Algorithm:     rec.HashAlgorithm,
		})
		if err != nil {
			util.Warn("otp hash verification error",
				util.String("user_id", userID), util.ErrorField(err))
			continue
		}
		if ok && now.Before(rec.ExpiresAt) {
			matched = true
			break
		}
	}
	if !matched {
		return ErrInvalidOTP
	}

	if err := s.users.MarkVerified(ctx, userID); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	if err := s.otps.DeleteAllForUser(ctx, userID); err != nil {
		util.Error("failed to delete consumed otps",
			util.String("user_id", userID), util.ErrorField(err))
	}
	if err := s.attempts.ResetAttempts(ctx, userID); err != nil {
		util.Warn("failed to reset otp attempts", util.ErrorField(err))
	}

	s.events.Record(ctx, model.AuthEvent{
		UserID:    user.UserID,
		EventType: model.EventEmailVerified,
	})

	util.Info("email verified", util.String("user_id", userID))
	return nil
}

// Login authenticates by email or username. The password is checked
// before the verification state, so an unverified account with a wrong
// password still reads as invalid credentials.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenPair, error) {
	in.Identifier = util.SanitizeInput(in.Identifier)

	if in.Identifier == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: identifier and password are required", ErrInvalidInput)
	}

	user, err := s.lookupAccount(ctx, in.Identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Unknown identifier and wrong password must be
			// indistinguishable to the caller.
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := s.hasher.VerifyPassword(in.Password, &hashing.HashResult{
		Hash:          user.PasswordHash,
		Salt:          user.PasswordSalt,
		PepperVersion: user.PepperVersion,
		Algorithm:     user.HashAlgorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.events.Record(ctx, model.AuthEvent{
			UserID:    user.UserID,
			EventType: model.EventLoginFailed,
			Details:   "wrong password",
		})
		return nil, ErrInvalidCredentials
	}

	if !user.IsVerified {
		s.events.Record(ctx, model.AuthEvent{
			UserID:    user.UserID,
			EventType: model.EventLoginFailed,
			Details:   "email not verified",
		})
		return nil, ErrEmailNotVerified
	}

	access, err := s.tokens.IssueAccess(user.UserID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.tokens.IssueRefresh(user.UserID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	s.events.Record(ctx, model.AuthEvent{
		UserID:    user.UserID,
		EventType: model.EventLoginSuccess,
	})

	util.Info("user logged in", util.String("user_id", user.UserID))
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout records the event. Tokens are stateless, so the real work is
// the cookie clearing done at the transport layer.
func (s *AuthService) Logout(ctx context.Context, userID string) {
	if userID != "" {
		s.events.Record(ctx, model.AuthEvent{
			UserID:    userID,
			EventType: model.EventLogout,
		})
	}
}

// GetProfile returns the sanitized account view.
func (s *AuthService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return s.toProfile(ctx, user), nil
}

// UpdateProfile applies the mutable fields and returns the new view.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if name := util.SanitizeInput(update.Name); name != "" {
		user.Name = name
	}
	if update.CookieEssential != nil {
		user.CookieEssential = *update.CookieEssential
	}
	if update.CookieAnalytics != nil {
		user.CookieAnalytics = *update.CookieAnalytics
	}
	if update.Phone != "" {
		if err := s.attachPhone(ctx, user, update.Phone); err != nil {
			return nil, err
		}
	}

	if err := s.users.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	return s.toProfile(ctx, user), nil
}

// lookupAccount matches the identifier against email first, then
// username. Both fields share the same identifier namespace for login.
func (s *AuthService) lookupAccount(ctx context.Context, identifier string) (*model.User, error) {
	user, err := s.users.GetByEmail(ctx, util.NormalizeEmail(identifier))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("lookup by email: %w", err)
	}

	user, err = s.users.GetByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("lookup by username: %w", err)
	}

	return nil, ErrUserNotFound
}

func (s *AuthService) attachPhone(ctx context.Context, user *model.User, phone string) error {
	if s.encryption == nil {
		return nil
	}
	field, err := s.encryption.EncryptField(ctx, strings.TrimSpace(phone))
	if err != nil {
		return fmt.Errorf("encrypt phone: %w", err)
	}
	user.PhoneEncrypted = field.Ciphertext
	user.PhoneDEK = string(field.EncryptedDEK)
	user.PhoneKeyID = field.KeyID
	return nil
}

func (s *AuthService) toProfile(ctx context.Context, user *model.User) *Profile {
	p := &Profile{
		UserID:     user.UserID,
		Username:   user.Username,
		Email:      user.Email,
		Name:       user.Name,
		IsVerified: user.IsVerified,
	}
	if len(user.PhoneEncrypted) > 0 && s.encryption != nil {
		phone, err := s.encryption.DecryptField(ctx, &encryption.EncryptedField{
			Ciphertext:   user.PhoneEncrypted,
			EncryptedDEK: []byte(user.PhoneDEK),
			KeyID:        user.PhoneKeyID,
		})
		if err != nil {
			util.Error("failed to decrypt phone",
				util.String("user_id", user.UserID), util.ErrorField(err))
		} else {
			p.Phone = phone
		}
	}
	return p
}

func (s *AuthService) issueOTP(ctx context.Context, user *model.User) error {
	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	hashed, err := s.hasher.HashOTP(code)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}

	record := &model.OTPRecord{
		UserID:        user.UserID,
		OTPHash:       hashed.Hash,
		OTPSalt:       hashed.Salt,
		PepperVersion: hashed.PepperVersion,
		HashAlgorithm: hashed.Algorithm,
		ExpiresAt:     time.Now().UTC().Add(s.cfg.OTP.TTL),
	}
	if err := s.otps.Create(ctx, record); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}

	subject, body := mailer.OTPBody(code, s.cfg.OTP.TTL)
	if err := s.mail.Send(ctx, user.Email, subject, body); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}

	return nil
}
