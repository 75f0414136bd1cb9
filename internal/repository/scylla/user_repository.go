package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/snackychef/auth-service/internal/bucketing"
	"github.com/snackychef/auth-service/internal/model"
	"github.com/snackychef/auth-service/internal/util"
)

// UserRepository persists accounts in ScyllaDB. Email and username
// uniqueness is enforced with LWT inserts into the lookup tables, which
// also serve point reads for login.
type UserRepository struct {
	client  *Client
	buckets *bucketing.Manager
}

func NewUserRepository(client *Client, buckets *bucketing.Manager) *UserRepository {
	return &UserRepository{client: client, buckets: buckets}
}

// Create inserts the account after claiming both lookup rows. The email
// row is claimed first; if the username row loses its LWT race the email
// claim is rolled back so a retry with a different username can succeed.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.UserBucket = r.buckets.GetUserBucket(user.UserID)
	user.CreatedAt = now
	user.UpdatedAt = now

	applied, err := r.client.Query(r.client.Stmts.InsertEmailLookup,
		user.Email, user.UserBucket, user.UserID, now).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("claim email: %w", err)
	}
	if !applied {
		return model.ErrDuplicate
	}

	applied, err = r.client.Query(r.client.Stmts.InsertNameLookup,
		user.Username, user.UserBucket, user.UserID, now).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil || !applied {
		if delErr := r.client.Query(r.client.Stmts.DeleteEmailLookup, user.Email).
			WithContext(ctx).Exec(); delErr != nil {
			util.Error("failed to roll back email claim",
				util.String("email", user.Email), util.ErrorField(delErr))
		}
		if err != nil {
			return fmt.Errorf("claim username: %w", err)
		}
		return model.ErrDuplicate
	}

	query := r.client.Query(r.client.Stmts.InsertUser,
		user.UserBucket, user.UserID, user.Username, user.Email, user.Name,
		user.PasswordHash, user.PasswordSalt, user.PepperVersion, user.HashAlgorithm,
		user.PhoneEncrypted, user.PhoneDEK, user.PhoneKeyID,
		user.IsVerified, user.TermsAccepted, user.TermsAcceptedAt,
		user.CookieEssential, user.CookieAnalytics, user.CreatedAt, user.UpdatedAt,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID string) (*model.User, error) {
	bucket := r.buckets.GetUserBucket(userID)
	return r.scanUser(ctx, bucket, userID)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var bucket int
	var userID string

	query := r.client.Query(r.client.Stmts.SelectEmailLookup, email).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	return r.scanUser(ctx, bucket, userID)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var bucket int
	var userID string

	query := r.client.Query(r.client.Stmts.SelectNameLookup, username).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("lookup username: %w", err)
	}

	return r.scanUser(ctx, bucket, userID)
}

func (r *UserRepository) MarkVerified(ctx context.Context, userID string) error {
	bucket := r.buckets.GetUserBucket(userID)
	query := r.client.Query(r.client.Stmts.MarkVerified,
		true, time.Now().UTC(), bucket, userID).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// UpdateProfile writes the mutable profile columns. Phone fields are
// updated separately so a profile edit without a phone change never
// touches the encrypted columns.
func (r *UserRepository) UpdateProfile(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	bucket := r.buckets.GetUserBucket(user.UserID)

	query := r.client.Query(r.client.Stmts.UpdateProfile,
		user.Name, user.CookieEssential, user.CookieAnalytics, now,
		bucket, user.UserID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	if len(user.PhoneEncrypted) > 0 {
		query = r.client.Query(r.client.Stmts.UpdatePhone,
			user.PhoneEncrypted, user.PhoneDEK, user.PhoneKeyID, now,
			bucket, user.UserID).WithContext(ctx)
		if err := r.client.ExecuteWithRetry(query, 3); err != nil {
			return fmt.Errorf("update phone: %w", err)
		}
	}

	return nil
}

func (r *UserRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

func (r *UserRepository) scanUser(ctx context.Context, bucket int, userID string) (*model.User, error) {
	user := &model.User{}

	query := r.client.Query(r.client.Stmts.SelectUserByID, bucket, userID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&user.UserBucket, &user.UserID, &user.Username, &user.Email, &user.Name,
		&user.PasswordHash, &user.PasswordSalt, &user.PepperVersion, &user.HashAlgorithm,
		&user.PhoneEncrypted, &user.PhoneDEK, &user.PhoneKeyID,
		&user.IsVerified, &user.TermsAccepted, &user.TermsAcceptedAt,
		&user.CookieEssential, &user.CookieAnalytics, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("select user: %w", err)
	}

	return user, nil
}
