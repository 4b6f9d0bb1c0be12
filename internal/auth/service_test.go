package auth_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockdash/backend/internal/auth"
	"github.com/stockdash/backend/internal/mailer"
	"github.com/stockdash/backend/internal/models"
	"github.com/stockdash/backend/internal/store"
)

// --- test doubles ---

// memStore is an in-memory auth.Store with the same observable semantics as
// the Postgres store: unique emails, latest-code-wins consumption, cascade
// delete of codes.
type memStore struct {
	mu         sync.Mutex
	nextUserID int64
	nextCodeID int64
	users      map[int64]models.User
	codes      []models.ValidationCode
}

func newMemStore() *memStore {
	return &memStore{users: make(map[int64]models.User)}
}

func (m *memStore) CreateUser(_ context.Context, username, email, hashedPassword, code string, codeExpiry time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return nil, store.ErrDuplicateEmail
		}
	}
	m.nextUserID++
	u := models.User{
		ID:        m.nextUserID,
		Username:  username,
		Email:     email,
		Password:  hashedPassword,
		CreatedAt: time.Now(),
	}
	m.users[u.ID] = u
	m.nextCodeID++
	m.codes = append(m.codes, models.ValidationCode{
		ID: m.nextCodeID, UserID: u.ID, Token: code, ExpiresAt: codeExpiry,
	})
	out := u
	return &out, nil
}

func (m *memStore) DeleteUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	kept := m.codes[:0]
	for _, c := range m.codes {
		if c.UserID != id {
			kept = append(kept, c)
		}
	}
	m.codes = kept
	return nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := u
	return &out, nil
}

func (m *memStore) CreateValidationCode(_ context.Context, userID int64, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCodeID++
	m.codes = append(m.codes, models.ValidationCode{
		ID: m.nextCodeID, UserID: userID, Token: code, ExpiresAt: expiresAt,
	})
	return nil
}

func (m *memStore) ConsumeValidationCode(_ context.Context, userID int64, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	match := -1
	for i, c := range m.codes {
		if c.UserID == userID && c.Token == code && c.ExpiresAt.After(time.Now()) {
			if match == -1 || c.ID > m.codes[match].ID {
				match = i
			}
		}
	}
	if match == -1 {
		return store.ErrNotFound
	}
	u := m.users[userID]
	u.IsVerified = true
	m.users[userID] = u
	m.codes = append(m.codes[:match], m.codes[match+1:]...)
	return nil
}

func (m *memStore) setVerified(id int64, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	u.IsVerified = v
	m.users[id] = u
}

func (m *memStore) codesFor(id int64) []models.ValidationCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ValidationCode
	for _, c := range m.codes {
		if c.UserID == id {
			out = append(out, c)
		}
	}
	return out
}

// fakeMailer records sent codes and can be told to fail.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail error
}

type sentMail struct {
	To, Name, Code string
}

func (f *fakeMailer) SendValidationCode(_ context.Context, to, name, code string) error {
	if f.fail != nil {
		return f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{To: to, Name: name, Code: code})
	return nil
}

func (f *fakeMailer) lastCode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Code
}

var _ mailer.Mailer = (*fakeMailer)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(st auth.Store, m mailer.Mailer) *auth.Service {
	tokens := auth.NewTokenIssuer("test-secret", 24*time.Hour)
	return auth.NewService(st, m, tokens, nil, nil, 30*time.Minute, discardLogger())
}

func register(t *testing.T, svc *auth.Service, email, password, name string) *models.User {
	t.Helper()
	u, err := svc.Register(context.Background(), models.RegisterRequest{
		Email: email, Password: password, Name: name,
	})
	require.NoError(t, err)
	return u
}

// --- tests ---

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("creates unverified user and emails code", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		svc := newTestService(st, mail)

		u := register(t, svc, "a@x.com", "longpass1", "alice")

		assert.False(t, u.IsVerified)
		assert.Equal(t, "alice", u.Username)
		assert.NotEqual(t, "longpass1", u.Password, "password must not be stored in plaintext")

		require.Len(t, mail.sent, 1)
		assert.Equal(t, "a@x.com", mail.sent[0].To)
		assert.Len(t, mail.sent[0].Code, auth.CodeLength)

		codes := st.codesFor(u.ID)
		require.Len(t, codes, 1)
		assert.Equal(t, mail.sent[0].Code, codes[0].Token)
		assert.True(t, codes[0].ExpiresAt.After(time.Now()))
	})

	t.Run("rejects invalid input before touching the store", func(t *testing.T) {
		st := newMemStore()
		svc := newTestService(st, &fakeMailer{})

		cases := []models.RegisterRequest{
			{Email: "not-an-email", Password: "longpass1", Name: "alice"},
			{Email: "a@x.com", Password: "short", Name: "alice"},
			{Email: "a@x.com", Password: "longpass1", Name: ""},
		}
		for _, req := range cases {
			_, err := svc.Register(ctx, req)
			assert.ErrorIs(t, err, auth.ErrValidation)
		}
		_, err := st.GetUserByEmail(ctx, "a@x.com")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("duplicate email fails", func(t *testing.T) {
		st := newMemStore()
		svc := newTestService(st, &fakeMailer{})

		register(t, svc, "a@x.com", "longpass1", "alice")
		_, err := svc.Register(ctx, models.RegisterRequest{
			Email: "a@x.com", Password: "otherpass1", Name: "mallory",
		})
		assert.ErrorIs(t, err, auth.ErrDuplicateEmail)
	})

	t.Run("rolls back the user when the email cannot be sent", func(t *testing.T) {
		st := newMemStore()
		svc := newTestService(st, &fakeMailer{fail: assert.AnError})

		_, err := svc.Register(ctx, models.RegisterRequest{
			Email: "a@x.com", Password: "longpass1", Name: "alice",
		})
		require.Error(t, err)

		_, err = st.GetUserByEmail(ctx, "a@x.com")
		assert.ErrorIs(t, err, store.ErrNotFound, "failed registration must not leave a user behind")
	})
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("correct code flips the flag and consumes the code", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		svc := newTestService(st, mail)
		u := register(t, svc, "a@x.com", "longpass1", "alice")

		already, err := svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: mail.lastCode()})
		require.NoError(t, err)
		assert.False(t, already)

		got, err := st.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.IsVerified)
		assert.Empty(t, st.codesFor(u.ID), "consumed code must be deleted")
	})

	t.Run("wrong code fails", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		svc := newTestService(st, mail)
		register(t, svc, "a@x.com", "longpass1", "alice")

		_, err := svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: "000000"})
		assert.ErrorIs(t, err, auth.ErrInvalidCode)
	})

	t.Run("unknown email fails with not found", func(t *testing.T) {
		svc := newTestService(newMemStore(), &fakeMailer{})
		_, err := svc.Verify(ctx, models.VerifyRequest{Email: "b@x.com", Code: "123456"})
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("expired code fails even if correct", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		tokens := auth.NewTokenIssuer("test-secret", 24*time.Hour)
		svc := auth.NewService(st, mail, tokens, nil, nil, -time.Minute, discardLogger())

		register(t, svc, "a@x.com", "longpass1", "alice")
		_, err := svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: mail.lastCode()})
		assert.ErrorIs(t, err, auth.ErrInvalidCode)
	})

	t.Run("second submission of the same code fails", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		svc := newTestService(st, mail)
		u := register(t, svc, "a@x.com", "longpass1", "alice")
		code := mail.lastCode()

		_, err := svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: code})
		require.NoError(t, err)

		// The account is verified now, so re-verifying is idempotent
		// success regardless of the submitted code.
		already, err := svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: code})
		assert.NoError(t, err)
		assert.True(t, already)

		// With the flag administratively cleared, the consumed code is
		// gone and must not work a second time.
		st.setVerified(u.ID, false)
		_, err = svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: code})
		assert.ErrorIs(t, err, auth.ErrInvalidCode)
	})

	t.Run("losing a consume race still reports success", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		svc := newTestService(st, mail)
		u := register(t, svc, "a@x.com", "longpass1", "alice")

		// Simulate the race: another request consumed the code and set
		// the flag between our user lookup and the consume attempt.
		raced := &racingStore{memStore: st, userID: u.ID, code: mail.lastCode()}
		svcRaced := newTestService(raced, mail)

		already, err := svcRaced.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: mail.lastCode()})
		assert.NoError(t, err)
		assert.True(t, already)
	})

	t.Run("malformed code length rejected", func(t *testing.T) {
		svc := newTestService(newMemStore(), &fakeMailer{})
		_, err := svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: "123"})
		assert.ErrorIs(t, err, auth.ErrValidation)
	})

	t.Run("repeated attempts get rate limited", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		_, client := newTestRedis(t)
		tokens := auth.NewTokenIssuer("test-secret", 24*time.Hour)
		verifyLimit := auth.NewCodeLimiter(client, time.Minute, 2)
		svc := auth.NewService(st, mail, tokens, nil, verifyLimit, 30*time.Minute, discardLogger())
		register(t, svc, "a@x.com", "longpass1", "alice")

		for i := 0; i < 2; i++ {
			_, err := svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: "000000"})
			require.ErrorIs(t, err, auth.ErrInvalidCode)
		}

		// Over budget even the correct code is refused; the attacker
		// cannot walk the code space within the window.
		_, err := svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: mail.lastCode()})
		assert.ErrorIs(t, err, auth.ErrRateLimited)

		u, err := st.GetUserByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		assert.False(t, u.IsVerified)
	})
}

// racingStore consumes the code out from under the caller right before the
// caller's own consume, reproducing a concurrent double-submit.
type racingStore struct {
	*memStore
	userID int64
	code   string
	once   sync.Once
}

func (r *racingStore) ConsumeValidationCode(ctx context.Context, userID int64, code string) error {
	r.once.Do(func() {
		r.memStore.ConsumeValidationCode(ctx, r.userID, r.code)
	})
	return r.memStore.ConsumeValidationCode(ctx, userID, code)
}

func TestResendCode(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a fresh code and keeps old ones valid", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		svc := newTestService(st, mail)
		u := register(t, svc, "a@x.com", "longpass1", "alice")
		first := mail.lastCode()

		require.NoError(t, svc.ResendCode(ctx, models.ResendRequest{Email: "a@x.com"}))
		second := mail.lastCode()

		require.Len(t, mail.sent, 2)
		assert.Len(t, st.codesFor(u.ID), 2, "resend does not invalidate prior codes")

		// Either outstanding code verifies the account.
		_, err := svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: first})
		assert.NoError(t, err)
		_ = second
	})

	t.Run("over the resend budget fails with rate limited", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		_, client := newTestRedis(t)
		tokens := auth.NewTokenIssuer("test-secret", 24*time.Hour)
		resendLimit := auth.NewCodeLimiter(client, time.Minute, 1)
		svc := auth.NewService(st, mail, tokens, resendLimit, nil, 30*time.Minute, discardLogger())
		register(t, svc, "a@x.com", "longpass1", "alice")

		require.NoError(t, svc.ResendCode(ctx, models.ResendRequest{Email: "a@x.com"}))
		err := svc.ResendCode(ctx, models.ResendRequest{Email: "a@x.com"})
		assert.ErrorIs(t, err, auth.ErrRateLimited)
		assert.Len(t, mail.sent, 2, "no email once the budget is spent")
	})

	t.Run("unknown email fails with not found", func(t *testing.T) {
		svc := newTestService(newMemStore(), &fakeMailer{})
		err := svc.ResendCode(ctx, models.ResendRequest{Email: "b@x.com"})
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("already verified is idempotent success without email", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		svc := newTestService(st, mail)
		u := register(t, svc, "a@x.com", "longpass1", "alice")
		st.setVerified(u.ID, true)

		require.NoError(t, svc.ResendCode(ctx, models.ResendRequest{Email: "a@x.com"}))
		assert.Len(t, mail.sent, 1, "no resend email for a verified account")
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email and wrong password are indistinguishable", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		svc := newTestService(st, mail)
		register(t, svc, "a@x.com", "longpass1", "alice")

		_, errMissing := svc.Login(ctx, models.LoginRequest{Email: "ghost@x.com", Password: "longpass1"})
		_, errWrong := svc.Login(ctx, models.LoginRequest{Email: "a@x.com", Password: "wrongpass1"})

		assert.ErrorIs(t, errMissing, auth.ErrInvalidCredentials)
		assert.ErrorIs(t, errWrong, auth.ErrInvalidCredentials)
		assert.Equal(t, errMissing, errWrong)
	})

	t.Run("unverified account never receives a token", func(t *testing.T) {
		st := newMemStore()
		svc := newTestService(st, &fakeMailer{})
		register(t, svc, "a@x.com", "longpass1", "alice")

		token, err := svc.Login(ctx, models.LoginRequest{Email: "a@x.com", Password: "longpass1"})
		assert.ErrorIs(t, err, auth.ErrUnverified)
		assert.Empty(t, token)
	})

	t.Run("verified account gets a token bound to its identity", func(t *testing.T) {
		st := newMemStore()
		mail := &fakeMailer{}
		svc := newTestService(st, mail)
		u := register(t, svc, "a@x.com", "longpass1", "alice")
		_, err := svc.Verify(ctx, models.VerifyRequest{Email: "a@x.com", Code: mail.lastCode()})
		require.NoError(t, err)

		token, err := svc.Login(ctx, models.LoginRequest{Email: "a@x.com", Password: "longpass1"})
		require.NoError(t, err)
		require.NotEmpty(t, token)

		issuer := auth.NewTokenIssuer("test-secret", 24*time.Hour)
		id, email, err := issuer.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, u.ID, id)
		assert.Equal(t, "a@x.com", email)
	})
}

func TestProfile(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := newTestService(st, &fakeMailer{})
	u := register(t, svc, "a@x.com", "longpass1", "alice")

	got, err := svc.Profile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, "alice", got.Username)

	_, err = svc.Profile(ctx, u.ID+1)
	assert.ErrorIs(t, err, auth.ErrNotFound)
}
