package services

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/reeltask/authserver/internal/apperr"
	"github.com/reeltask/authserver/internal/metrics"
	"github.com/reeltask/authserver/internal/store"
	"github.com/reeltask/authserver/internal/token"
	"github.com/reeltask/authserver/types"
)

const (
	passwordHashCost = 12

	// idempotencyWindow bounds how long a completed registration can be
	// replayed by the same (email, key) pair.
	idempotencyWindow = 24 * time.Hour
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)

// RegisterInput carries everything one registration attempt needs, including
// the request metadata forwarded into the audit log.
type RegisterInput struct {
	Email        string `json:"email"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`

	IdempotencyKey string `json:"-"`
	IP             string `json:"-"`
	UserAgent      string `json:"-"`
	CorrelationID  string `json:"-"`
}

// RegisterResult is the successful registration response. ExpiresIn is the
// access token lifetime in seconds.
type RegisterResult struct {
	User        types.User `json:"user"`
	AccessToken string     `json:"token"`
	ExpiresIn   int        `json:"expires_in"`
}

// RegistrationService orchestrates account creation: input screening,
// idempotent replay, account persistence, best-effort downstream profile
// provisioning with queued compensation, and token issuance.
type RegistrationService struct {
	users        UserRepository
	ledger       IdempotencyRepository
	verification *VerificationService
	provisioner  Provisioner
	jobs         JobEnqueuer
	audit        *AuditService
	tokens       *token.Manager
	breach       BreachOracle
	mx           MXOracle
	captcha      CaptchaOracle
	pepper       string
	logger       zerolog.Logger
	now          func() time.Time
}

func NewRegistrationService(
	users UserRepository,
	ledger IdempotencyRepository,
	verification *VerificationService,
	provisioner Provisioner,
	jobs JobEnqueuer,
	audit *AuditService,
	tokens *token.Manager,
	breach BreachOracle,
	mx MXOracle,
	captcha CaptchaOracle,
	pepper string,
	logger zerolog.Logger,
) *RegistrationService {
	return &RegistrationService{
		users:        users,
		ledger:       ledger,
		verification: verification,
		provisioner:  provisioner,
		jobs:         jobs,
		audit:        audit,
		tokens:       tokens,
		breach:       breach,
		mx:           mx,
		captcha:      captcha,
		pepper:       pepper,
		logger:       logger.With().Str("component", "registration").Logger(),
		now:          time.Now,
	}
}

// Register runs the full registration pipeline. A replay of a completed
// registration (same normalized email and Idempotency-Key within the window)
// returns the original result without re-executing any side effect.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	start := s.now()
	result, reason, err := s.register(ctx, in)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.RegisterAttempts.WithLabelValues(outcome, reason).Inc()
	metrics.RegisterDuration.WithLabelValues(outcome).Observe(s.now().Sub(start).Seconds())
	return result, err
}

func (s *RegistrationService) register(ctx context.Context, in RegisterInput) (RegisterResult, string, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)

	if err := validateRegisterInput(in); err != nil {
		return RegisterResult{}, "validation", err
	}

	if !s.captcha.Verify(ctx, in.CaptchaToken) {
		return RegisterResult{}, "captcha", apperr.NewValidationError("captcha_token", "captcha verification failed")
	}

	// Replay check before any side effect. A hit means a previous attempt
	// with this (email, key) pair already completed.
	if rec, err := s.ledger.Get(ctx, in.Email, in.IdempotencyKey, s.now()); err == nil {
		user, err := s.users.GetByID(ctx, rec.UserID)
		if err != nil {
			return RegisterResult{}, "ledger", apperr.ErrDependencyUnavailable
		}
		s.logger.Info().
			Str("user_id", rec.UserID).
			Str("request_id", in.CorrelationID).
			Msg("idempotent replay of completed registration")
		return s.result(user, rec.ResponseToken), "replay", nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return RegisterResult{}, "ledger", apperr.ErrDependencyUnavailable
	}

	domain := in.Email[strings.LastIndex(in.Email, "@")+1:]
	if !s.mx.HasMX(ctx, domain) {
		return RegisterResult{}, "mx", apperr.NewValidationError("email", "email domain cannot receive mail")
	}

	if reason, err := s.checkUniqueness(ctx, in); err != nil {
		var conflict *apperr.ConflictError
		if errors.As(err, &conflict) {
			if result, ok := s.replayForConflict(ctx, in); ok {
				return result, "replay", nil
			}
		}
		return RegisterResult{}, reason, err
	}

	if IsReservedUsername(in.Username) {
		return RegisterResult{}, "reserved_username", &apperr.ConflictError{Field: "username", Message: "username is reserved"}
	}

	// Fail open: an unreachable breach corpus must not block signups.
	if breached, err := s.breach.IsBreached(ctx, in.Password); err != nil {
		s.logger.Warn().Err(err).Msg("breach check unavailable, skipping")
	} else if breached {
		return RegisterResult{}, "breached_password", apperr.NewValidationError("password", "password appears in a known data breach")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password+s.pepper), passwordHashCost)
	if err != nil {
		return RegisterResult{}, "hash", err
	}

	user, err := s.users.Create(ctx, types.User{
		Email:        in.Email,
		Username:     in.Username,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: string(hash),
		IsActive:     true,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateEmail):
			if result, ok := s.replayForConflict(ctx, in); ok {
				return result, "replay", nil
			}
			return RegisterResult{}, "duplicate_email", &apperr.ConflictError{Field: "email", Message: "email is already registered"}
		case errors.Is(err, store.ErrDuplicateUsername):
			if result, ok := s.replayForConflict(ctx, in); ok {
				return result, "replay", nil
			}
			return RegisterResult{}, "duplicate_username", &apperr.ConflictError{Field: "username", Message: "username is already taken"}
		default:
			return RegisterResult{}, "store", apperr.ErrDependencyUnavailable
		}
	}

	// The account exists from here on, no matter what the downstream does.
	if ok := s.provisioner.Provision(ctx, user.AuthID, user.Username, in.CorrelationID); !ok {
		job := types.ProvisioningJob{
			UserID:        user.AuthID,
			Username:      user.Username,
			CorrelationID: in.CorrelationID,
			Attempt:       0,
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			s.logger.Error().
				Err(err).
				Str("user_id", user.AuthID).
				Msg("failed to enqueue compensation job, profile provisioning will need manual intervention")
		}
	}

	s.sendVerificationEmail(ctx, user)

	s.audit.Append(ctx, types.AuditEntry{
		UserID:    user.AuthID,
		Action:    "USER_REGISTER",
		Outcome:   "success",
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Metadata:  map[string]string{"username": user.Username},
	})

	accessToken, err := s.tokens.IssueAccessToken(token.Payload{
		Subject:  user.AuthID,
		Email:    user.Email,
		Username: user.Username,
	})
	if err != nil {
		return RegisterResult{}, "token", err
	}

	s.recordIdempotency(ctx, in, user.AuthID, accessToken)

	s.logger.Info().
		Str("user_id", user.AuthID).
		Str("request_id", in.CorrelationID).
		Msg("user registered")
	return s.result(user, accessToken), "", nil
}

func (s *RegistrationService) result(user types.User, accessToken string) RegisterResult {
	return RegisterResult{
		User:        user,
		AccessToken: accessToken,
		ExpiresIn:   int(s.tokens.AccessTokenTTL().Seconds()),
	}
}

// replayForConflict resolves a uniqueness conflict against the ledger. When
// the colliding account was created by a concurrent attempt with the same
// (email, key) that completed after our initial ledger lookup, the winner's
// recorded result is served instead of a conflict.
func (s *RegistrationService) replayForConflict(ctx context.Context, in RegisterInput) (RegisterResult, bool) {
	rec, err := s.ledger.Get(ctx, in.Email, in.IdempotencyKey, s.now())
	if err != nil {
		return RegisterResult{}, false
	}
	user, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		return RegisterResult{}, false
	}
	s.logger.Info().
		Str("user_id", rec.UserID).
		Str("request_id", in.CorrelationID).
		Msg("lost registration race, serving winner's result")
	return s.result(user, rec.ResponseToken), true
}

// checkUniqueness pre-screens email and username so the common collisions
// get a field-specific conflict before hashing. The unique indexes remain the
// authority under races.
func (s *RegistrationService) checkUniqueness(ctx context.Context, in RegisterInput) (string, error) {
	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return "duplicate_email", &apperr.ConflictError{Field: "email", Message: "email is already registered"}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "store", apperr.ErrDependencyUnavailable
	}
	if _, err := s.users.GetByUsername(ctx, in.Username); err == nil {
		return "duplicate_username", &apperr.ConflictError{Field: "username", Message: "username is already taken"}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "store", apperr.ErrDependencyUnavailable
	}
	return "", nil
}

// sendVerificationEmail mints a verification token and hands it to the mail
// path. Delivery is currently a structured log line; failures never fail the
// registration.
func (s *RegistrationService) sendVerificationEmail(ctx context.Context, user types.User) {
	verifyToken, err := s.verification.GenerateToken(ctx, user.AuthID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.AuthID).Msg("failed to create email verification token")
		return
	}
	s.logger.Info().
		Str("user_id", user.AuthID).
		Str("email", user.Email).
		Str("verification_token", verifyToken).
		Msg("verification email queued")
}

// recordIdempotency persists the completed result. Losing the insert race to
// a concurrent attempt with the same (email, key) is fine; the winner's row
// serves future replays and this attempt still returns its own result.
func (s *RegistrationService) recordIdempotency(ctx context.Context, in RegisterInput, userID, accessToken string) {
	now := s.now()
	err := s.ledger.Create(ctx, types.IdempotencyRecord{
		Email:         in.Email,
		Key:           in.IdempotencyKey,
		UserID:        userID,
		ResponseToken: accessToken,
		CreatedAt:     now,
		ExpiresAt:     now.Add(idempotencyWindow),
	})
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("failed to record idempotency key")
	}
}

func validateRegisterInput(in RegisterInput) error {
	fields := map[string][]string{}

	if in.IdempotencyKey == "" {
		fields["idempotency_key"] = append(fields["idempotency_key"], "Idempotency-Key header is required")
	}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email || !strings.Contains(in.Email, "@") {
		fields["email"] = append(fields["email"], "must be a valid email address")
	}
	if !usernamePattern.MatchString(in.Username) {
		fields["username"] = append(fields["username"], "must be 3-30 characters of letters, digits, underscore or hyphen")
	}
	if len(in.Password) < 8 {
		fields["password"] = append(fields["password"], "must be at least 8 characters")
	}
	if len(in.Password) > 64 {
		fields["password"] = append(fields["password"], "must be at most 64 characters")
	}
	if in.FirstName == "" {
		fields["first_name"] = append(fields["first_name"], "is required")
	}
	if in.LastName == "" {
		fields["last_name"] = append(fields["last_name"], "is required")
	}

	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}
