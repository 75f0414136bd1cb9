package model

import (
	"context"
	"errors"
	"time"
)

// Storage-level sentinels. Repositories translate driver errors into
// these so the service layer never depends on gocql or redis types.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

// User is a SnackyChef account. The password is stored only as a salted
// argon2id hash and is never serialized into any response.
type User struct {
	UserBucket int    `db:"user_bucket"`
	UserID     string `db:"user_id"`
	Username   string `db:"username"`
	Email      string `db:"email"` // case-normalized

	PasswordHash  string `db:"password_hash"`
	PasswordSalt  string `db:"password_salt"`
	PepperVersion int    `db:"pepper_version"`
	HashAlgorithm string `db:"hash_algorithm"`

	Name string `db:"name"`

	// Optional phone, envelope-encrypted at rest.
	PhoneEncrypted []byte `db:"phone_encrypted"`
	PhoneDEK       string `db:"phone_dek"`
	PhoneKeyID     string `db:"phone_key_id"`

	IsVerified bool `db:"is_verified"`

	// Consent metadata, persisted alongside but not part of the auth
	// state machine.
	TermsAccepted   bool       `db:"terms_accepted"`
	TermsAcceptedAt *time.Time `db:"terms_accepted_at"`
	CookieEssential bool       `db:"cookie_essential"`
	CookieAnalytics bool       `db:"cookie_analytics"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// OTPRecord is one outstanding email-verification code. A user may hold
// several at once when signup is retried before verification; the verify
// operation matches on the (user, code) pair and deletes them all on
// success.
type OTPRecord struct {
	UserID        string    `db:"user_id"`
	OTPID         string    `db:"otp_id"`
	OTPHash       string    `db:"otp_hash"`
	OTPSalt       string    `db:"otp_salt"`
	PepperVersion int       `db:"pepper_version"`
	HashAlgorithm string    `db:"hash_algorithm"`
	ExpiresAt     time.Time `db:"expires_at"`
	CreatedAt     time.Time `db:"created_at"`
}

// Auth event types recorded to the analytics sinks.
const (
	EventSignup        = "signup"
	EventEmailVerified = "email_verified"
	EventLoginSuccess  = "login_success"
	EventLoginFailed   = "login_failed"
	EventLogout        = "logout"
)

// AuthEvent is the audit record fanned out to Kafka, ClickHouse and
// Elasticsearch. It never carries credentials or codes.
type AuthEvent struct {
	EventBucket int       `json:"event_bucket" db:"event_bucket"`
	UserID      string    `json:"user_id" db:"user_id"`
	EventDate   string    `json:"event_date" db:"event_date"`
	EventTime   time.Time `json:"event_time" db:"event_time"`
	EventType   string    `json:"event_type" db:"event_type"`
	IPAddress   string    `json:"ip_address" db:"ip_address"`
	UserAgent   string    `json:"user_agent" db:"user_agent"`
	Details     string    `json:"details" db:"details"`
}

// UserRepository persists accounts. Create must enforce email and
// username uniqueness at the storage layer and report a violation as
// ErrDuplicate; an application-level existence check alone is not a
// correctness guarantee under concurrent signups.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, userID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	MarkVerified(ctx context.Context, userID string) error
	UpdateProfile(ctx context.Context, user *User) error
	HealthCheck(ctx context.Context) error
}

// OTPRepository persists verification codes. ListByUser returns every
// outstanding record for the user, expired ones included; expiry is the
// caller's check so that mismatch and expiry stay indistinguishable.
type OTPRepository interface {
	Create(ctx context.Context, otp *OTPRecord) error
	ListByUser(ctx context.Context, userID string) ([]*OTPRecord, error)
	DeleteAllForUser(ctx context.Context, userID string) error
}

// OTPAttemptCache counts failed verification attempts per user with a
// TTL, backing the brute-force lockout.
type OTPAttemptCache interface {
	IncrementAttempts(ctx context.Context, userID string, ttl time.Duration) (int, error)
	ResetAttempts(ctx context.Context, userID string) error
}

// EmailSender delivers a message to an external address. Implementations
// must be safe to call concurrently and are expected to be slow.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// EventSink records auth events. Implementations must never block the
// request path or surface sink failures to the caller.
type EventSink interface {
	Record(ctx context.Context, event AuthEvent)
}
