/**
 * @description
 * This file contains the OTP authorization service: issuing, verifying, and
 * expiring the single-use codes that gate every sensitive mutation. Requests
 * serialize per (user, purpose) key so no two live codes ever exist for the
 * same purpose, and consumption is single-use even under racing verifies.
 *
 * @notes
 * - Code delivery is fire-and-forget through the event producer; a delivery
 *   failure is logged and never fails the issue path.
 * - Verify ordering: already-consumed beats expired beats invalid-code, so a
 *   caller never learns more about a dead code than its terminal state.
 */

package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oldspringtb/ledger-service/internal/domain"
	"github.com/oldspringtb/ledger-service/internal/store"
	"github.com/oldspringtb/ledger-service/pkg/rabbitmq"
)

var (
	ErrInvalidCode        = errors.New("otp code does not match")
	ErrOTPExpired         = errors.New("otp request expired")
	ErrOTPAlreadyConsumed = errors.New("otp request already consumed")
	ErrOTPRateLimited     = errors.New("too many otp requests")
)

const (
	// DefaultOTPTTL bounds how long an issued code stays verifiable.
	DefaultOTPTTL = 10 * time.Minute
	// DefaultOTPMaxAttempts is the failed-verify budget per issued code.
	DefaultOTPMaxAttempts = 5

	otpDeliveryRoutingKey = "otp.code.issued"
)

// OTPRateLimiter bounds how often a user may request codes. Implementations
// return the running count and a retry-after hint; a nil limiter disables
// limiting entirely.
type OTPRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// keyedMutex serializes operations per string key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) *sync.Mutex {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m
}

// OTPService issues and verifies step-up authorization codes.
type OTPService struct {
	repo        store.Repository
	delivery    rabbitmq.Publisher
	limiter     OTPRateLimiter
	ttl         time.Duration
	maxAttempts int
	perMinute   int
	keys        keyedMutex
	now         func() time.Time
}

// NewOTPService creates a new OTPService. A nil limiter disables request rate
// limiting; requestsPerMinute only applies when a limiter is present.
func NewOTPService(repo store.Repository, delivery rabbitmq.Publisher, limiter OTPRateLimiter, ttl time.Duration, maxAttempts, requestsPerMinute int) *OTPService {
	if ttl <= 0 {
		ttl = DefaultOTPTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultOTPMaxAttempts
	}
	return &OTPService{
		repo:        repo,
		delivery:    delivery,
		limiter:     limiter,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		perMinute:   requestsPerMinute,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func otpKey(userID uuid.UUID, purpose string) string {
	return userID.String() + "|" + purpose
}

// generateOTPCode returns a 6-digit zero-padded code from crypto/rand.
func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("otp entropy: %w", err)
	}
	return fmt.Sprintf("%06d", n), nil
}

// Request issues a fresh code for (user, purpose), superseding any code still
// outstanding for the same pair, and hands it to the delivery collaborator.
func (s *OTPService) Request(ctx context.Context, userID uuid.UUID, purpose, destination, displayName string) (*domain.OTPRequest, error) {
	if s.limiter != nil && s.perMinute > 0 {
		count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "otp_request", userID.String(), s.perMinute, time.Minute)
		if err != nil {
			// Limiter outage must not block step-up issuance.
			log.Printf("level=warn component=otp msg=\"rate limiter unavailable; allowing request\" user_id=%s err=%v", userID, err)
		} else if count > s.perMinute {
			log.Printf("level=warn component=otp msg=\"request rate limited\" user_id=%s purpose=%s retry_after=%d", userID, purpose, retryAfter)
			return nil, ErrOTPRateLimited
		}
	}

	key := otpKey(userID, purpose)
	m := s.keys.lock(key)
	defer m.Unlock()

	code, err := generateOTPCode()
	if err != nil {
		return nil, err
	}

	req := &domain.OTPRequest{
		ID:        uuid.New(),
		UserID:    userID,
		Purpose:   purpose,
		Code:      code,
		Status:    domain.OTPStatusIssued,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.repo.ReplaceOutstandingOTP(ctx, req); err != nil {
		return nil, fmt.Errorf("issue otp: %w", err)
	}

	s.deliver(ctx, req, destination, displayName)

	log.Printf("level=info component=otp msg=\"code issued\" request_id=%s user_id=%s purpose=%s expires_at=%s", req.ID, userID, purpose, req.ExpiresAt.Format(time.RFC3339))
	return req, nil
}

// Resend invalidates the outstanding code for (user, purpose) and issues a
// new one; it is Request under another name so the verify path never sees a
// sentinel "resend" code.
func (s *OTPService) Resend(ctx context.Context, userID uuid.UUID, purpose, destination, displayName string) (*domain.OTPRequest, error) {
	return s.Request(ctx, userID, purpose, destination, displayName)
}

// deliver publishes the code to the delivery exchange, best effort.
func (s *OTPService) deliver(ctx context.Context, req *domain.OTPRequest, destination, displayName string) {
	if s.delivery == nil {
		return
	}
	payload := domain.OTPDelivery{
		RequestID:   req.ID,
		UserID:      req.UserID,
		Destination: destination,
		DisplayName: displayName,
		Purpose:     req.Purpose,
		Code:        req.Code,
		ExpiresAt:   req.ExpiresAt,
	}
	if err := s.delivery.Publish(ctx, ledgerEventsExchange, otpDeliveryRoutingKey, payload); err != nil {
		log.Printf("level=warn component=otp msg=\"code delivery publish failed\" request_id=%s err=%v", req.ID, err)
	}
}

// Verify checks a submitted code against an issued request. On success the
// request is consumed and can never verify again; a failed match burns one
// attempt from the budget.
func (s *OTPService) Verify(ctx context.Context, requestID uuid.UUID, code string) (*domain.OTPRequest, error) {
	req, err := s.repo.GetOTPRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	m := s.keys.lock(otpKey(req.UserID, req.Purpose))
	defer m.Unlock()

	// Reload under the key lock; a racing verify or resend may have won.
	req, err = s.repo.GetOTPRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case domain.OTPStatusConsumed:
		return nil, ErrOTPAlreadyConsumed
	case domain.OTPStatusExpired, domain.OTPStatusSuperseded:
		return nil, ErrOTPExpired
	}

	now := s.now()
	if !req.ExpiresAt.After(now) || req.Attempts >= s.maxAttempts {
		if err := s.repo.MarkOTPExpired(ctx, requestID); err != nil && !errors.Is(err, store.ErrOTPNotIssued) {
			return nil, err
		}
		return nil, ErrOTPExpired
	}

	if req.Code != code {
		attempts, err := s.repo.IncrementOTPAttempts(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if attempts >= s.maxAttempts {
			if err := s.repo.MarkOTPExpired(ctx, requestID); err != nil && !errors.Is(err, store.ErrOTPNotIssued) {
				return nil, err
			}
		}
		return nil, ErrInvalidCode
	}

	if err := s.repo.ConsumeOTPRequest(ctx, requestID, now); err != nil {
		if errors.Is(err, store.ErrOTPNotIssued) {
			return nil, ErrOTPAlreadyConsumed
		}
		return nil, err
	}

	req.Status = domain.OTPStatusConsumed
	req.ConsumedAt = &now
	log.Printf("level=info component=otp msg=\"code consumed\" request_id=%s user_id=%s purpose=%s", req.ID, req.UserID, req.Purpose)
	return req, nil
}

// SweepExpired marks all overdue issued requests expired; the scheduler runs
// this periodically so abandoned flows need no explicit cancellation.
func (s *OTPService) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.ExpireOverdueOTPRequests(ctx, s.now())
}
