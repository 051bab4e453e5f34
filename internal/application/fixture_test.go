package application

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/latchkey/auth-service/internal/adapters/security"
	"github.com/latchkey/auth-service/internal/domain"
	"github.com/latchkey/auth-service/internal/ports"
)

type fixture struct {
	service    *Service
	accounts   *fakeAccounts
	sessions   *fakeSessions
	tokens     *fakeTokens
	passkeys   *fakePasskeys
	attempts   *fakeAttempts
	lockouts   *fakeLockouts
	challenges *fakeChallenges
	verifier   *fakeVerifier
	mailer     *fakeMailer
	clock      *fakeClock
}

func defaultTestConfig() Config {
	return Config{
		MagicLinkBaseURL:     "https://app.example.com/auth/magic-link",
		EmailVerifyBaseURL:   "https://app.example.com/auth/verify-email",
		MagicLinkTTL:         15 * time.Minute,
		EmailVerificationTTL: 24 * time.Hour,
		SessionLifetime:      14 * 24 * time.Hour,
		RotationAge:          7 * 24 * time.Hour,
		RotatedRetention:     90 * 24 * time.Hour,
		ChallengeTTL:         60 * time.Second,
		LockoutThreshold:     5,
		LockoutWindow:        time.Hour,
		LockoutDuration:      15 * time.Minute,
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, defaultTestConfig())
}

func newFixtureWithConfig(t *testing.T, cfg Config) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	accounts := &fakeAccounts{
		byEmail: map[string]domain.Account{},
		byID:    map[uuid.UUID]domain.Account{},
	}
	sessions := &fakeSessions{byID: map[uuid.UUID]domain.Session{}}
	tokens := &fakeTokens{byFingerprint: map[string]domain.EphemeralToken{}}
	passkeys := &fakePasskeys{byCredentialID: map[string]domain.PasskeyCredential{}}
	attempts := &fakeAttempts{}
	lockouts := &fakeLockouts{
		failures:    map[string]int{},
		lockedUntil: map[string]time.Time{},
		clock:       clock,
	}
	challenges := &fakeChallenges{items: map[string]ports.Challenge{}}
	verifier := &fakeVerifier{}
	mailer := &fakeMailer{}

	svc := NewService(Dependencies{
		Config:     cfg,
		Accounts:   accounts,
		Sessions:   sessions,
		Tokens:     tokens,
		Passkeys:   passkeys,
		Attempts:   attempts,
		Lockouts:   lockouts,
		Challenges: challenges,
		Codec:      security.NewOpaqueTokenCodec(),
		Verifier:   verifier,
		Mailer:     mailer,
	})
	svc.nowFn = clock.Now

	return &fixture{
		service:    svc,
		accounts:   accounts,
		sessions:   sessions,
		tokens:     tokens,
		passkeys:   passkeys,
		attempts:   attempts,
		lockouts:   lockouts,
		challenges: challenges,
		verifier:   verifier,
		mailer:     mailer,
		clock:      clock,
	}
}

// seedAccount inserts an account directly, bypassing the magic-link path.
func (f *fixture) seedAccount(email string) domain.Account {
	f.accounts.mu.Lock()
	defer f.accounts.mu.Unlock()
	now := f.clock.Now()
	account := domain.Account{
		AccountID: uuid.New(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.accounts.byEmail[email] = account
	f.accounts.byID[account.AccountID] = account
	return account
}

// lastMailedToken extracts the token query parameter from the most recently
// sent link.
func (f *fixture) lastMailedToken(t *testing.T) string {
	t.Helper()
	f.mailer.mu.Lock()
	defer f.mailer.mu.Unlock()
	if len(f.mailer.sent) == 0 {
		t.Fatalf("no mail was sent")
	}
	link := f.mailer.sent[len(f.mailer.sent)-1].link
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse mailed link %q: %v", link, err)
	}
	token := u.Query().Get("token")
	if token == "" {
		t.Fatalf("mailed link carries no token: %q", link)
	}
	return token
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAccounts struct {
	mu      sync.Mutex
	byEmail map[string]domain.Account
	byID    map[uuid.UUID]domain.Account
}

func (f *fakeAccounts) GetOrCreateByEmail(_ context.Context, email string, now time.Time) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account, ok := f.byEmail[email]; ok {
		return account, nil
	}
	account := domain.Account{
		AccountID: uuid.New(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.byEmail[email] = account
	f.byID[account.AccountID] = account
	return account, nil
}

func (f *fakeAccounts) GetByEmail(_ context.Context, email string) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byEmail[email]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

func (f *fakeAccounts) GetByID(_ context.Context, accountID uuid.UUID) (domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[accountID]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, nil
}

func (f *fakeAccounts) MarkEmailVerified(_ context.Context, accountID uuid.UUID, verifiedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.byID[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	if account.EmailVerifiedAt == nil {
		account.EmailVerifiedAt = &verifiedAt
		account.UpdatedAt = verifiedAt
		f.byID[accountID] = account
		f.byEmail[account.Email] = account
	}
	return nil
}

type fakeSessions struct {
	mu              sync.Mutex
	byID            map[uuid.UUID]domain.Session
	failMarkRotated bool
}

func (f *fakeSessions) Create(_ context.Context, params ports.SessionCreateParams) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.Fingerprint == params.Fingerprint {
			return domain.Session{}, domain.ErrConflict
		}
	}
	session := domain.Session{
		SessionID:   uuid.New(),
		AccountID:   params.AccountID,
		Fingerprint: params.Fingerprint,
		IPAddress:   params.IPAddress,
		UserAgent:   params.UserAgent,
		CreatedAt:   params.CreatedAt,
		ExpiresAt:   params.ExpiresAt,
	}
	f.byID[session.SessionID] = session
	return session, nil
}

func (f *fakeSessions) GetByID(_ context.Context, sessionID uuid.UUID) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.byID[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return session, nil
}

func (f *fakeSessions) FindByFingerprint(_ context.Context, fingerprint string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.byID {
		if session.Fingerprint == fingerprint {
			return session, nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

func (f *fakeSessions) ListByAccount(_ context.Context, accountID uuid.UUID, limit, offset int) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, session := range f.byID {
		if session.AccountID == accountID {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSessions) MarkRotated(_ context.Context, sessionID uuid.UUID, rotatedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMarkRotated {
		return false, errors.New("simulated write failure")
	}
	session, ok := f.byID[sessionID]
	if !ok || session.RotatedAt != nil || session.RevokedAt != nil {
		return false, nil
	}
	session.RotatedAt = &rotatedAt
	f.byID[sessionID] = session
	return true, nil
}

func (f *fakeSessions) MarkRevoked(_ context.Context, sessionID uuid.UUID, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.byID[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if session.RevokedAt == nil {
		session.RevokedAt = &revokedAt
		f.byID[sessionID] = session
	}
	return nil
}

func (f *fakeSessions) RevokeAllByAccount(_ context.Context, accountID uuid.UUID, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, session := range f.byID {
		if session.AccountID == accountID && session.RevokedAt == nil {
			session.RevokedAt = &revokedAt
			f.byID[id] = session
		}
	}
	return nil
}

func (f *fakeSessions) DeleteExpiredAndOldRotated(_ context.Context, now time.Time, retention time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	horizon := now.Add(-retention)
	for id, session := range f.byID {
		if !session.ExpiresAt.After(now) || (session.RotatedAt != nil && session.RotatedAt.Before(horizon)) {
			delete(f.byID, id)
			deleted++
		}
	}
	return deleted, nil
}

type fakeTokens struct {
	mu            sync.Mutex
	byFingerprint map[string]domain.EphemeralToken
}

func (f *fakeTokens) Create(_ context.Context, params ports.TokenCreateParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byFingerprint[params.Fingerprint] = domain.EphemeralToken{
		TokenID:     uuid.New(),
		AccountID:   params.AccountID,
		Fingerprint: params.Fingerprint,
		Purpose:     params.Purpose,
		CreatedAt:   params.CreatedAt,
		ExpiresAt:   params.ExpiresAt,
	}
	return nil
}

func (f *fakeTokens) Consume(_ context.Context, fingerprint string, purpose domain.TokenPurpose, usedAt time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.byFingerprint[fingerprint]
	if !ok || token.Purpose != purpose || token.UsedAt != nil || !token.ExpiresAt.After(usedAt) {
		return uuid.Nil, domain.ErrNotFound
	}
	token.UsedAt = &usedAt
	f.byFingerprint[fingerprint] = token
	return token.AccountID, nil
}

func (f *fakeTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for fp, token := range f.byFingerprint {
		if !token.ExpiresAt.After(now) || token.UsedAt != nil {
			delete(f.byFingerprint, fp)
			deleted++
		}
	}
	return deleted, nil
}

type fakePasskeys struct {
	mu             sync.Mutex
	byCredentialID map[string]domain.PasskeyCredential
}

func (f *fakePasskeys) ListByAccount(_ context.Context, accountID uuid.UUID) ([]domain.PasskeyCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PasskeyCredential
	for _, credential := range f.byCredentialID {
		if credential.AccountID == accountID {
			out = append(out, credential)
		}
	}
	return out, nil
}

func (f *fakePasskeys) GetByCredentialID(_ context.Context, credentialID string) (domain.PasskeyCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	credential, ok := f.byCredentialID[credentialID]
	if !ok {
		return domain.PasskeyCredential{}, domain.ErrNotFound
	}
	return credential, nil
}

func (f *fakePasskeys) Upsert(_ context.Context, credential domain.PasskeyCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byCredentialID[credential.CredentialID] = credential
	return nil
}

type fakeAttempts struct {
	mu   sync.Mutex
	rows []domain.AuthAttempt
}

func (f *fakeAttempts) Insert(_ context.Context, attempt domain.AuthAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, attempt)
	return nil
}

func (f *fakeAttempts) last(t *testing.T) domain.AuthAttempt {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rows) == 0 {
		t.Fatalf("no auth attempt was recorded")
	}
	return f.rows[len(f.rows)-1]
}

type fakeLockouts struct {
	mu          sync.Mutex
	failures    map[string]int
	lockedUntil map[string]time.Time
	clock       *fakeClock
}

func (f *fakeLockouts) RecordFailure(_ context.Context, accountID string, now time.Time, threshold int, _ time.Duration, lockoutFor time.Duration) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[accountID]++
	count := f.failures[accountID]
	if count >= threshold {
		f.lockedUntil[accountID] = now.Add(lockoutFor)
		delete(f.failures, accountID)
		return true, count, nil
	}
	return false, count, nil
}

func (f *fakeLockouts) CheckLocked(_ context.Context, accountID string) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.lockedUntil[accountID]
	if !ok {
		return false, 0, nil
	}
	now := f.clock.Now()
	if !until.After(now) {
		delete(f.lockedUntil, accountID)
		return false, 0, nil
	}
	return true, until.Sub(now), nil
}

func (f *fakeLockouts) Reset(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, accountID)
	return nil
}

type fakeChallenges struct {
	mu    sync.Mutex
	items map[string]ports.Challenge
}

func (f *fakeChallenges) Store(_ context.Context, challenge ports.Challenge, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.items[id] = challenge
	return id, nil
}

func (f *fakeChallenges) RetrieveAndInvalidate(_ context.Context, challengeID string, kind domain.ChallengeKind) (ports.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	challenge, ok := f.items[challengeID]
	if !ok {
		return ports.Challenge{}, domain.ErrChallengeNotFound
	}
	delete(f.items, challengeID)
	if challenge.Kind != kind {
		return ports.Challenge{}, domain.ErrChallengeNotFound
	}
	return challenge, nil
}

// fakeVerifier stands in for the cryptographic half of the ceremony. The
// Finish* calls succeed unless told otherwise; FinishLogin resolves the
// account through the supplied resolver exactly like the real adapter.
type fakeVerifier struct {
	mu           sync.Mutex
	failFinish   bool
	cloneWarning bool
	userHandle   []byte
	signCount    uint32
}

func (f *fakeVerifier) BeginRegistration(account domain.Account, _ []domain.PasskeyCredential) ([]byte, []byte, error) {
	return []byte(`{"publicKey":{"rp":{"name":"test"}}}`), []byte("reg-session:" + account.AccountID.String()), nil
}

func (f *fakeVerifier) FinishRegistration(account domain.Account, _ []domain.PasskeyCredential, _, responseJSON []byte) (domain.PasskeyCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFinish {
		return domain.PasskeyCredential{}, errors.New("attestation rejected")
	}
	return domain.PasskeyCredential{
		CredentialID:   "cred-" + account.AccountID.String(),
		AccountID:      account.AccountID,
		CredentialJSON: responseJSON,
		SignCount:      0,
	}, nil
}

func (f *fakeVerifier) BeginLogin() ([]byte, []byte, error) {
	return []byte(`{"publicKey":{"challenge":"abc"}}`), []byte("login-session"), nil
}

func (f *fakeVerifier) FinishLogin(ctx context.Context, resolver ports.PasskeyAccountResolver, _, _ []byte) (domain.Account, domain.PasskeyCredential, bool, error) {
	f.mu.Lock()
	handle := f.userHandle
	failFinish := f.failFinish
	cloneWarning := f.cloneWarning
	signCount := f.signCount
	f.mu.Unlock()

	account, credentials, err := resolver.ResolveAccount(ctx, handle)
	if err != nil {
		return domain.Account{}, domain.PasskeyCredential{}, false, err
	}
	if failFinish {
		return domain.Account{}, domain.PasskeyCredential{}, false, errors.New("assertion rejected")
	}
	if len(credentials) == 0 {
		return domain.Account{}, domain.PasskeyCredential{}, false, errors.New("no credential for account")
	}
	credential := credentials[0]
	credential.SignCount = signCount
	return account, credential, cloneWarning, nil
}

type sentMail struct {
	email string
	link  string
	kind  string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeMailer) SendMagicLink(_ context.Context, email, link string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{email: email, link: link, kind: "magic_link"})
	return nil
}

func (f *fakeMailer) SendVerificationLink(_ context.Context, email, link string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{email: email, link: link, kind: "verification"})
	return nil
}
