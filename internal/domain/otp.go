/**
 * @description
 * This file defines the OTPRequest domain model: a single-use, time-bounded
 * step-up authorization code bound to one user and one purpose. At most one
 * request per (user, purpose) pair is outstanding at a time; re-requesting
 * supersedes the previous code before it expires.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// OTPStatus is the lifecycle state of an OTP request.
type OTPStatus string

const (
	// OTPStatusIssued means the code is live and may still be verified.
	OTPStatusIssued OTPStatus = "issued"
	// OTPStatusConsumed means the code verified successfully exactly once.
	OTPStatusConsumed OTPStatus = "consumed"
	// OTPStatusExpired means time elapsed or the attempt budget was exhausted.
	OTPStatusExpired OTPStatus = "expired"
	// OTPStatusSuperseded means a newer request for the same (user, purpose)
	// replaced this one before it expired.
	OTPStatusSuperseded OTPStatus = "superseded"
)

// OTPRequest represents one issued code and maps to the `otp_requests` table.
type OTPRequest struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Purpose    string     `json:"purpose"`
	Code       string     `json:"-"` // 6 digits, never serialized outward
	Status     OTPStatus  `json:"status"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	Attempts   int        `json:"attempts"` // failed verify attempts
	CreatedAt  time.Time  `json:"created_at"`
}

// OTPDelivery is the payload handed to the delivery collaborator when a code
// is issued. Delivery is best-effort; failures never fail the issue path.
type OTPDelivery struct {
	RequestID   uuid.UUID `json:"request_id"`
	UserID      uuid.UUID `json:"user_id"`
	Destination string    `json:"destination"`
	DisplayName string    `json:"display_name,omitempty"`
	Purpose     string    `json:"purpose"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
}
