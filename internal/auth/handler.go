package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/stockdash/backend/internal/models"
)

// AuthCookie is the name of the session cookie set on login.
const AuthCookie = "authToken"

// Handler holds auth-related HTTP handlers. It is the only layer that knows
// about status codes; everything below it speaks sentinel errors.
type Handler struct {
	service  *Service
	tokenTTL time.Duration
	log      *slog.Logger
}

func NewHandler(service *Service, tokenTTL time.Duration, log *slog.Logger) *Handler {
	return &Handler{service: service, tokenTTL: tokenTTL, log: log}
}

// Register creates a new unverified user and emails a validation code.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := h.service.Register(r.Context(), req); err != nil {
		if errors.Is(err, ErrValidation) {
			writeFail(w, http.StatusBadRequest, err.Error())
			return
		}
		// Duplicate emails fall through here on purpose: the response
		// must not confirm whether an address is already registered.
		h.logInternal("registration failed", err)
		writeFail(w, http.StatusInternalServerError, "Registration failed. Please try again later.")
		return
	}

	writeOK(w, models.Response{
		Success: true,
		Message: "User registered successfully, Please check your email for the validation code.",
	})
}

// Verify consumes a validation code and marks the account verified.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	alreadyVerified, err := h.service.Verify(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			writeFail(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNotFound):
			writeFail(w, http.StatusNotFound, "User not found")
		case errors.Is(err, ErrInvalidCode):
			writeFail(w, http.StatusBadRequest, "Invalid or expired validation code")
		case errors.Is(err, ErrRateLimited):
			writeFail(w, http.StatusTooManyRequests, "Too many attempts. Please try again later.")
		default:
			h.logInternal("verification failed", err)
			writeFail(w, http.StatusInternalServerError, "Verification failed. Please try again later.")
		}
		return
	}

	message := "Email verified successfully"
	if alreadyVerified {
		message = "Email already verified"
	}
	writeOK(w, models.Response{Success: true, Message: message})
}

// ResendCode issues and emails a fresh validation code.
func (h *Handler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var req models.ResendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.ResendCode(r.Context(), req); err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			writeFail(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNotFound):
			writeFail(w, http.StatusNotFound, "User not found")
		case errors.Is(err, ErrRateLimited):
			writeFail(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
		default:
			h.logInternal("resend code failed", err)
			writeFail(w, http.StatusInternalServerError, "Failed to resend validation code. Please try again later.")
		}
		return
	}

	writeOK(w, models.Response{Success: true, Message: "Validation code sent. Please check your email."})
}

// Login checks credentials and issues a session token, returned both in the
// body and as an HttpOnly cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.service.Login(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeFail(w, http.StatusUnauthorized, "Invalid email or password")
		case errors.Is(err, ErrUnverified):
			writeFail(w, http.StatusForbidden, "Email not verified. Please verify your email to login.")
		default:
			h.logInternal("login failed", err)
			writeFail(w, http.StatusInternalServerError, "Login failed. Please try again later.")
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.tokenTTL / time.Second),
	})

	writeOK(w, models.Response{Success: true, Message: "Login successfully", Token: token})
}

// Logout clears the session cookie. Tokens are stateless, so there is
// nothing to revoke server-side.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeOK(w, models.Response{Success: true, Message: "Logged out"})
}

// Profile returns the authenticated user's public fields. The access gate
// has already validated the token and verification state.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeFail(w, http.StatusForbidden, "Account no longer exists")
			return
		}
		h.logInternal("profile lookup failed", err)
		writeFail(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}

	writeOK(w, models.Response{Success: true, User: user})
}

func (h *Handler) logInternal(msg string, err error) {
	h.log.Error(msg, "error", err)
}

func writeOK(w http.ResponseWriter, resp models.Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeFail(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.Response{Success: false, Message: message})
}
