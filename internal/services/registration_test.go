package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/reeltask/authserver/internal/apperr"
	"github.com/reeltask/authserver/internal/store"
	"github.com/reeltask/authserver/internal/token"
	"github.com/reeltask/authserver/types"
)

type registrationFixture struct {
	svc          *RegistrationService
	users        *fakeUserRepo
	ledger       *fakeLedger
	verification *fakeVerificationRepo
	provisioner  *fakeProvisioner
	jobs         *fakeEnqueuer
	audit        *fakeAuditRepo
	breach       *fakeBreachOracle
	mx           *fakeMXOracle
	captcha      *fakeCaptchaOracle
	tokens       *token.Manager
}

func newRegistrationFixture(t *testing.T) *registrationFixture {
	t.Helper()
	f := &registrationFixture{
		users:        newFakeUserRepo(),
		ledger:       newFakeLedger(),
		verification: newFakeVerificationRepo(),
		provisioner:  &fakeProvisioner{succeed: true},
		jobs:         &fakeEnqueuer{},
		audit:        &fakeAuditRepo{},
		breach:       &fakeBreachOracle{},
		mx:           &fakeMXOracle{has: true},
		captcha:      &fakeCaptchaOracle{ok: true},
		tokens:       testTokenManager(t),
	}
	logger := zerolog.Nop()
	f.svc = NewRegistrationService(
		f.users,
		f.ledger,
		NewVerificationService(f.verification, f.users, logger),
		f.provisioner,
		f.jobs,
		NewAuditService(f.audit, logger),
		f.tokens,
		f.breach,
		f.mx,
		f.captcha,
		"pepper",
		logger,
	)
	return f
}

func validInput() RegisterInput {
	return RegisterInput{
		Email:          "alice@example.com",
		Username:       "alice",
		FirstName:      "Alice",
		LastName:       "Smith",
		Password:       "correct-horse-battery",
		IdempotencyKey: "key-1",
		CorrelationID:  "req-1",
	}
}

func TestRegisterSuccess(t *testing.T) {
	f := newRegistrationFixture(t)

	result, err := f.svc.Register(context.Background(), validInput())
	require.NoError(t, err)

	assert.NotEmpty(t, result.User.AuthID)
	assert.Equal(t, "alice@example.com", result.User.Email)
	assert.Equal(t, 900, result.ExpiresIn)

	payload, err := f.tokens.Verify(result.AccessToken, token.Access)
	require.NoError(t, err)
	assert.Equal(t, result.User.AuthID, payload.Subject)

	// password stored peppered and hashed, never in the clear
	stored := f.users.byID[result.User.AuthID]
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("correct-horse-battery"+"pepper")))

	assert.Equal(t, 1, f.provisioner.calls)
	assert.Empty(t, f.jobs.jobs)
	assert.Equal(t, 1, f.ledger.creates)
	assert.Len(t, f.verification.byToken, 1)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "USER_REGISTER", f.audit.entries[0].Action)
}

func TestRegisterReplayReturnsOriginalResult(t *testing.T) {
	f := newRegistrationFixture(t)
	in := validInput()

	first, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)

	second, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, first.User.AuthID, second.User.AuthID)
	// no side effects re-executed
	assert.Equal(t, 1, f.users.creates)
	assert.Equal(t, 1, f.provisioner.calls)
	assert.Len(t, f.verification.byToken, 1)
}

func TestRegisterSameEmailDifferentKeyConflicts(t *testing.T) {
	f := newRegistrationFixture(t)
	in := validInput()

	_, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)

	in.IdempotencyKey = "key-2"
	in.Username = "alice2"
	_, err = f.svc.Register(context.Background(), in)

	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "email", conflict.Field)
	assert.Equal(t, 1, f.users.creates)
}

func TestRegisterProvisioningFailureEnqueuesCompensation(t *testing.T) {
	f := newRegistrationFixture(t)
	f.provisioner.succeed = false

	result, err := f.svc.Register(context.Background(), validInput())
	require.NoError(t, err, "provisioning failure must not fail registration")

	require.Len(t, f.jobs.jobs, 1)
	job := f.jobs.jobs[0]
	assert.Equal(t, result.User.AuthID, job.UserID)
	assert.Equal(t, "alice", job.Username)
	assert.Equal(t, "req-1", job.CorrelationID)
	assert.Zero(t, job.Attempt)
}

func TestRegisterEnqueueFailureStillSucceeds(t *testing.T) {
	f := newRegistrationFixture(t)
	f.provisioner.succeed = false
	f.jobs.err = errStoreDown

	_, err := f.svc.Register(context.Background(), validInput())
	assert.NoError(t, err)
}

func TestRegisterRejectsReservedUsername(t *testing.T) {
	f := newRegistrationFixture(t)
	in := validInput()
	in.Username = "admin"

	_, err := f.svc.Register(context.Background(), in)

	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "username", conflict.Field)
	assert.Zero(t, f.users.creates)
}

func TestRegisterRejectsBreachedPassword(t *testing.T) {
	f := newRegistrationFixture(t)
	f.breach.breached = true

	_, err := f.svc.Register(context.Background(), validInput())

	var validation *apperr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Fields, "password")
}

func TestRegisterBreachOracleOutageFailsOpen(t *testing.T) {
	f := newRegistrationFixture(t)
	f.breach.err = errStoreDown

	_, err := f.svc.Register(context.Background(), validInput())
	assert.NoError(t, err)
}

func TestRegisterRejectsUndeliverableDomain(t *testing.T) {
	f := newRegistrationFixture(t)
	f.mx.has = false

	_, err := f.svc.Register(context.Background(), validInput())

	var validation *apperr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Fields, "email")
}

func TestRegisterRejectsFailedCaptcha(t *testing.T) {
	f := newRegistrationFixture(t)
	f.captcha.ok = false

	_, err := f.svc.Register(context.Background(), validInput())

	var validation *apperr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Fields, "captcha_token")
}

func TestRegisterRequiresIdempotencyKey(t *testing.T) {
	f := newRegistrationFixture(t)
	in := validInput()
	in.IdempotencyKey = ""

	_, err := f.svc.Register(context.Background(), in)

	var validation *apperr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Fields, "idempotency_key")
}

func TestRegisterValidatesInput(t *testing.T) {
	f := newRegistrationFixture(t)
	in := validInput()
	in.Email = "not-an-email"
	in.Username = "x"
	in.Password = "short"

	_, err := f.svc.Register(context.Background(), in)

	var validation *apperr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Fields, "email")
	assert.Contains(t, validation.Fields, "username")
	assert.Contains(t, validation.Fields, "password")
}

func TestRegisterNormalizesEmail(t *testing.T) {
	f := newRegistrationFixture(t)
	in := validInput()
	in.Email = "  Alice@Example.COM "

	result, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", result.User.Email)
}

func TestRegisterLostAccountRaceServesWinnerResult(t *testing.T) {
	f := newRegistrationFixture(t)
	in := validInput()

	winnerToken, err := f.tokens.IssueAccessToken(token.Payload{Subject: "winner-1", Email: in.Email, Username: in.Username})
	require.NoError(t, err)

	// A concurrent attempt with the same (email, key) completes between our
	// ledger lookup and our insert: the winner's account and ledger row land
	// first and our insert loses on the email constraint.
	f.users.createHook = func() error {
		f.users.byID["winner-1"] = types.User{
			AuthID:   "winner-1",
			Email:    in.Email,
			Username: in.Username,
			IsActive: true,
		}
		f.ledger.records[ledgerKey(in.Email, in.IdempotencyKey)] = types.IdempotencyRecord{
			Email:         in.Email,
			Key:           in.IdempotencyKey,
			UserID:        "winner-1",
			ResponseToken: winnerToken,
			ExpiresAt:     time.Now().Add(time.Hour),
		}
		return store.ErrDuplicateEmail
	}

	result, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err, "losing the insert race must replay the winner, not error")

	assert.Equal(t, "winner-1", result.User.AuthID)
	assert.Equal(t, winnerToken, result.AccessToken)
	assert.Zero(t, f.users.creates)
}

func TestRegisterConflictWithoutLedgerRowStaysConflict(t *testing.T) {
	f := newRegistrationFixture(t)
	in := validInput()

	// Collision with an unrelated pre-existing account: no ledger row for
	// this (email, key), so the conflict surfaces.
	f.users.createHook = func() error { return store.ErrDuplicateEmail }

	_, err := f.svc.Register(context.Background(), in)

	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "email", conflict.Field)
}

func TestRegisterDuplicateEmailReportedBeforeReservedUsername(t *testing.T) {
	f := newRegistrationFixture(t)
	in := validInput()

	_, err := f.users.Create(context.Background(), types.User{Email: in.Email, Username: "taken"})
	require.NoError(t, err)

	// The email collision must win even though the username is reserved.
	in.Username = "admin"
	in.IdempotencyKey = "key-2"
	_, err = f.svc.Register(context.Background(), in)

	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "email", conflict.Field)
}

func TestRegisterLosingLedgerRaceStillSucceeds(t *testing.T) {
	f := newRegistrationFixture(t)
	in := validInput()

	// Another attempt already wrote the ledger row for this (email, key).
	require.NoError(t, f.ledger.Create(context.Background(), types.IdempotencyRecord{
		Email:     "other@example.com",
		Key:       "unrelated",
		UserID:    "someone",
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	f.ledger.records[ledgerKey(in.Email, in.IdempotencyKey)] = types.IdempotencyRecord{
		Email:     in.Email,
		Key:       in.IdempotencyKey,
		UserID:    "winner",
		ExpiresAt: time.Now().Add(-time.Minute), // expired, so no replay
	}

	_, err := f.svc.Register(context.Background(), in)
	assert.NoError(t, err)
}
