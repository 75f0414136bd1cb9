package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/snackychef/auth-service/internal/model"
)

// OTPRepository stores outstanding verification codes in ScyllaDB. Rows
// carry a table TTL slightly past their logical expiry as garbage
// collection; the logical expires_at check stays with the caller.
type OTPRepository struct {
	client *Client
}

func NewOTPRepository(client *Client) *OTPRepository {
	return &OTPRepository{client: client}
}

func (r *OTPRepository) Create(ctx context.Context, otp *model.OTPRecord) error {
	if otp.OTPID == "" {
		otp.OTPID = gocql.TimeUUID().String()
	}
	if otp.CreatedAt.IsZero() {
		otp.CreatedAt = time.Now().UTC()
	}

	// Keep the row an hour past logical expiry so a verify attempt can
	// still observe and reject it, rather than the code silently vanishing.
	rowTTL := int(time.Until(otp.ExpiresAt)/time.Second) + 3600

	query := r.client.Query(r.client.Stmts.InsertOTP,
		otp.UserID, otp.OTPID, otp.OTPHash, otp.OTPSalt, otp.PepperVersion,
		otp.HashAlgorithm, otp.ExpiresAt, otp.CreatedAt, rowTTL,
	).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}
	return nil
}

func (r *OTPRepository) ListByUser(ctx context.Context, userID string) ([]*model.OTPRecord, error) {
	iter := r.client.Query(r.client.Stmts.SelectOTPsByUser, userID).
		WithContext(ctx).Iter()

	var records []*model.OTPRecord
	for {
		rec := &model.OTPRecord{}
		if !iter.Scan(&rec.UserID, &rec.OTPID, &rec.OTPHash, &rec.OTPSalt,
			&rec.PepperVersion, &rec.HashAlgorithm, &rec.ExpiresAt, &rec.CreatedAt) {
			break
		}
		records = append(records, rec)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list otps: %w", err)
	}
	return records, nil
}

func (r *OTPRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	query := r.client.Query(r.client.Stmts.DeleteOTPsByUser, userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		return fmt.Errorf("delete otps: %w", err)
	}
	return nil
}
