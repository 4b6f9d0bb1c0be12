package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stockdash/backend/internal/mailer"
	"github.com/stockdash/backend/internal/models"
	"github.com/stockdash/backend/internal/store"
)

const minPasswordLength = 8

// Store is the slice of the credential store the auth flows need.
type Store interface {
	CreateUser(ctx context.Context, username, email, hashedPassword, code string, codeExpiry time.Time) (*models.User, error)
	DeleteUser(ctx context.Context, id int64) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	CreateValidationCode(ctx context.Context, userID int64, code string, expiresAt time.Time) error
	ConsumeValidationCode(ctx context.Context, userID int64, code string) error
}

// Service orchestrates registration, email verification, login, and code
// resend against the credential store, mailer, and token issuer.
type Service struct {
	users       Store
	mail        mailer.Mailer
	tokens      *TokenIssuer
	resendLimit *CodeLimiter
	verifyLimit *CodeLimiter
	codeTTL     time.Duration
	log         *slog.Logger
}

func NewService(users Store, mail mailer.Mailer, tokens *TokenIssuer, resendLimit, verifyLimit *CodeLimiter, codeTTL time.Duration, log *slog.Logger) *Service {
	return &Service{
		users:       users,
		mail:        mail,
		tokens:      tokens,
		resendLimit: resendLimit,
		verifyLimit: verifyLimit,
		codeTTL:     codeTTL,
		log:         log,
	}
}

// Register creates an unverified user, issues its first validation code, and
// emails the code. The user row and code are written in one transaction; if
// the email cannot be sent afterwards the user row is rolled back, because an
// account that never received its code cannot complete verification.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := validateEmail(req.Email); err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(s.codeTTL)

	user, err := s.users.CreateUser(ctx, req.Name, req.Email, string(hashed), code, expiresAt)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	if err := s.mail.SendValidationCode(ctx, user.Email, user.Username, code); err != nil {
		s.log.Error("validation email failed, rolling back registration",
			"user_id", user.ID, "error", err)
		if delErr := s.users.DeleteUser(ctx, user.ID); delErr != nil {
			s.log.Error("registration rollback failed", "user_id", user.ID, "error", delErr)
		}
		return nil, fmt.Errorf("send validation email: %w", err)
	}

	return user, nil
}

// Verify consumes a validation code and marks the account verified.
// Verification is idempotent once true: re-verifying an already-verified
// account succeeds without touching any code; the returned bool reports
// whether that path was taken. Attempts against unverified accounts are
// rate limited so a 6-digit code cannot be brute-forced within its window.
func (s *Service) Verify(ctx context.Context, req models.VerifyRequest) (bool, error) {
	if err := validateEmail(req.Email); err != nil {
		return false, err
	}
	if len(req.Code) != CodeLength {
		return false, fmt.Errorf("%w: code must be %d digits", ErrValidation, CodeLength)
	}

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	if user.IsVerified {
		return true, nil
	}

	if err := s.verifyLimit.Allow(ctx, "verify", req.Email); err != nil {
		return false, err
	}

	if err := s.users.ConsumeValidationCode(ctx, user.ID, req.Code); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A concurrent attempt with the same code may have won the
			// race and deleted it. If the flag is set now, this request
			// still takes the idempotent-success path.
			if u, reErr := s.users.GetUserByID(ctx, user.ID); reErr == nil && u.IsVerified {
				return true, nil
			}
			return false, ErrInvalidCode
		}
		return false, err
	}
	return false, nil
}

// ResendCode issues a fresh validation code for an unverified account.
// Previously issued unexpired codes stay valid.
func (s *Service) ResendCode(ctx context.Context, req models.ResendRequest) error {
	if err := validateEmail(req.Email); err != nil {
		return err
	}

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if user.IsVerified {
		return nil
	}

	if err := s.resendLimit.Allow(ctx, "resend", req.Email); err != nil {
		return err
	}

	code, err := GenerateCode()
	if err != nil {
		return err
	}
	if err := s.users.CreateValidationCode(ctx, user.ID, code, time.Now().Add(s.codeTTL)); err != nil {
		return err
	}
	if err := s.mail.SendValidationCode(ctx, user.Email, user.Username, code); err != nil {
		return fmt.Errorf("send validation email: %w", err)
	}
	return nil
}

// Login checks credentials and mints a session token. A missing account and
// a wrong password both return ErrInvalidCredentials so the response never
// reveals whether the email is registered. An unverified account never
// receives a token.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (string, error) {
	if req.Email == "" || req.Password == "" {
		return "", ErrInvalidCredentials
	}

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a comparison anyway so the miss is not observably
			// faster than a wrong password.
			bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return "", ErrInvalidCredentials
	}

	if !user.IsVerified {
		return "", ErrUnverified
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return token, nil
}

// Profile returns the public fields of the authenticated user.
func (s *Service) Profile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

// dummyHash is a bcrypt hash of an unused password, compared against when
// the email lookup misses.
var dummyHash = func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("stockdash-dummy"), bcrypt.DefaultCost)
	return h
}()

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	return nil
}
