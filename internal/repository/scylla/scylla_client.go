package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/snackychef/auth-service/internal/config"
	"github.com/snackychef/auth-service/internal/util"
)

// Statements holds the CQL text for every query the repositories run.
// Queries are built per call from these (gocql caches the server-side
// prepared form by statement text).
type Statements struct {
	InsertUser        string
	SelectUserByID    string
	InsertEmailLookup string
	SelectEmailLookup string
	DeleteEmailLookup string
	InsertNameLookup  string
	SelectNameLookup  string
	MarkVerified      string
	UpdateProfile     string
	UpdatePhone       string
	InsertOTP         string
	SelectOTPsByUser  string
	DeleteOTPsByUser  string
}

type Client struct {
	Session *gocql.Session
	Stmts   Statements
	config  *config.ScyllaConfig
}

func NewClient(cfg *config.Config) (*Client, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &Client{
		Session: session,
		Stmts:   buildStatements(),
		config:  &scyllaConfig,
	}

	util.Info("ScyllaDB client initialized",
		util.Any("nodes", scyllaConfig.Nodes),
		util.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func buildStatements() Statements {
	return Statements{
		InsertUser: `
        INSERT INTO users (
            user_bucket, user_id, username, email, name,
            password_hash, password_salt, pepper_version, hash_algorithm,
            phone_encrypted, phone_dek, phone_key_id,
            is_verified, terms_accepted, terms_accepted_at,
            cookie_essential, cookie_analytics, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		SelectUserByID: `
        SELECT user_bucket, user_id, username, email, name,
            password_hash, password_salt, pepper_version, hash_algorithm,
            phone_encrypted, phone_dek, phone_key_id,
            is_verified, terms_accepted, terms_accepted_at,
            cookie_essential, cookie_analytics, created_at, updated_at
        FROM users WHERE user_bucket = ? AND user_id = ?`,

		InsertEmailLookup: `
        INSERT INTO email_to_user (email, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`,

		SelectEmailLookup: `
        SELECT user_bucket, user_id FROM email_to_user WHERE email = ?`,

		DeleteEmailLookup: `
        DELETE FROM email_to_user WHERE email = ?`,

		InsertNameLookup: `
        INSERT INTO username_to_user (username, user_bucket, user_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`,

		SelectNameLookup: `
        SELECT user_bucket, user_id FROM username_to_user WHERE username = ?`,

		MarkVerified: `
        UPDATE users SET is_verified = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`,

		UpdateProfile: `
        UPDATE users SET name = ?, cookie_essential = ?, cookie_analytics = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`,

		UpdatePhone: `
        UPDATE users SET phone_encrypted = ?, phone_dek = ?, phone_key_id = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`,

		InsertOTP: `
        INSERT INTO otps (
            user_id, otp_id, otp_hash, otp_salt, pepper_version,
            hash_algorithm, expires_at, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`,

		SelectOTPsByUser: `
        SELECT user_id, otp_id, otp_hash, otp_salt, pepper_version,
            hash_algorithm, expires_at, created_at
        FROM otps WHERE user_id = ?`,

		DeleteOTPsByUser: `
        DELETE FROM otps WHERE user_id = ?`,
	}
}

func (c *Client) Close() {
	if c.Session != nil {
		c.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (c *Client) Query(stmt string, values ...interface{}) *gocql.Query {
	return c.Session.Query(stmt, values...)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := c.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

func (c *Client) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (c *Client) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if err == gocql.ErrNotFound {
				return err
			}
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
