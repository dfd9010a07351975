package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/reeltask/authserver/config"
	"github.com/reeltask/authserver/internal/store"
	"github.com/reeltask/authserver/internal/token"
	"github.com/reeltask/authserver/types"
)

type fakeUserRepo struct {
	byID    map[string]types.User
	creates int

	// createHook, when set, runs before an insert and can fail it, letting
	// tests simulate a concurrent writer winning the unique constraints.
	createHook func() error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[string]types.User{}}
}

func (r *fakeUserRepo) GetByID(ctx context.Context, authID string) (types.User, error) {
	if u, ok := r.byID[authID]; ok {
		return u, nil
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (types.User, error) {
	for _, u := range r.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	for _, u := range r.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *fakeUserRepo) Create(ctx context.Context, user types.User) (types.User, error) {
	if r.createHook != nil {
		if err := r.createHook(); err != nil {
			return types.User{}, err
		}
	}
	if _, err := r.GetByEmail(ctx, user.Email); err == nil {
		return types.User{}, store.ErrDuplicateEmail
	}
	if _, err := r.GetByUsername(ctx, user.Username); err == nil {
		return types.User{}, store.ErrDuplicateUsername
	}
	r.creates++
	user.AuthID = fmt.Sprintf("user-%d", r.creates)
	user.CreatedAt = time.Now()
	r.byID[user.AuthID] = user
	return user, nil
}

func (r *fakeUserRepo) SaveRefreshDigest(ctx context.Context, authID, digest string) error {
	u, ok := r.byID[authID]
	if !ok {
		return store.ErrNotFound
	}
	u.HashedRefreshToken = digest
	r.byID[authID] = u
	return nil
}

func (r *fakeUserRepo) RecordLogin(ctx context.Context, authID, digest string, at time.Time) error {
	u, ok := r.byID[authID]
	if !ok {
		return store.ErrNotFound
	}
	u.HashedRefreshToken = digest
	u.LastLogin = at
	r.byID[authID] = u
	return nil
}

func (r *fakeUserRepo) MarkEmailVerified(ctx context.Context, authID string) error {
	u, ok := r.byID[authID]
	if !ok {
		return store.ErrNotFound
	}
	u.EmailVerified = true
	r.byID[authID] = u
	return nil
}

type fakeLedger struct {
	records map[string]types.IdempotencyRecord
	creates int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]types.IdempotencyRecord{}}
}

func ledgerKey(email, key string) string { return email + "\x00" + key }

func (l *fakeLedger) Get(ctx context.Context, email, key string, now time.Time) (types.IdempotencyRecord, error) {
	rec, ok := l.records[ledgerKey(email, key)]
	if !ok || !rec.ExpiresAt.After(now) {
		return types.IdempotencyRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (l *fakeLedger) Create(ctx context.Context, rec types.IdempotencyRecord) error {
	k := ledgerKey(rec.Email, rec.Key)
	if _, ok := l.records[k]; ok {
		return store.ErrDuplicate
	}
	l.creates++
	l.records[k] = rec
	return nil
}

type fakeVerificationRepo struct {
	byToken map[string]types.EmailVerificationToken
	seq     int
}

func newFakeVerificationRepo() *fakeVerificationRepo {
	return &fakeVerificationRepo{byToken: map[string]types.EmailVerificationToken{}}
}

func (r *fakeVerificationRepo) Create(ctx context.Context, userID, tok string, expiresAt time.Time) error {
	r.seq++
	r.byToken[tok] = types.EmailVerificationToken{
		ID:        fmt.Sprintf("vt-%d", r.seq),
		UserID:    userID,
		Token:     tok,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	return nil
}

func (r *fakeVerificationRepo) GetByToken(ctx context.Context, tok string) (types.EmailVerificationToken, error) {
	if rec, ok := r.byToken[tok]; ok {
		return rec, nil
	}
	return types.EmailVerificationToken{}, store.ErrNotFound
}

func (r *fakeVerificationRepo) Delete(ctx context.Context, id string) error {
	for tok, rec := range r.byToken {
		if rec.ID == id {
			delete(r.byToken, tok)
			return nil
		}
	}
	return nil
}

type fakeProvisioner struct {
	succeed bool
	calls   int
}

func (p *fakeProvisioner) Provision(ctx context.Context, userID, username, correlationID string) bool {
	p.calls++
	return p.succeed
}

type fakeEnqueuer struct {
	jobs []types.ProvisioningJob
	err  error
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, job types.ProvisioningJob) error {
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, job)
	return nil
}

type fakeAuditRepo struct {
	entries []types.AuditEntry
}

func (r *fakeAuditRepo) Append(ctx context.Context, entry types.AuditEntry) error {
	r.entries = append(r.entries, entry)
	return nil
}

type fakeBreachOracle struct {
	breached bool
	err      error
}

func (o *fakeBreachOracle) IsBreached(ctx context.Context, password string) (bool, error) {
	return o.breached, o.err
}

type fakeMXOracle struct{ has bool }

func (o *fakeMXOracle) HasMX(ctx context.Context, domain string) bool { return o.has }

type fakeCaptchaOracle struct{ ok bool }

func (o *fakeCaptchaOracle) Verify(ctx context.Context, tok string) bool { return o.ok }

func testTokenManager(t *testing.T) *token.Manager {
	t.Helper()
	m, err := token.NewManager(config.JWTConfig{
		AccessSecret:    "access-test-secret",
		RefreshSecret:   "refresh-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}, zerolog.Nop())
	require.NoError(t, err)
	return m
}

var errStoreDown = errors.New("store down")
