package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/2beens/fitcoach/internal/auth"
	"github.com/2beens/fitcoach/internal/telemetry/tracing"
	"github.com/2beens/fitcoach/internal/validation"
	"github.com/2beens/fitcoach/pkg"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=accounts_test

type service interface {
	Signup(ctx context.Context, params SignupParams) (*User, error)
	Login(ctx context.Context, email, password string) (*User, string, error)
	Logout(ctx context.Context, token string) error
}

var (
	signupSchema = validation.MustCompile("signup.json", `{
		"type": "object",
		"required": ["name", "email", "password"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"email": {"type": "string", "minLength": 3},
			"password": {"type": "string", "minLength": 1, "maxLength": 72}
		}
	}`)
	loginSchema = validation.MustCompile("login.json", `{
		"type": "object",
		"required": ["email", "password"],
		"properties": {
			"email": {"type": "string"},
			"password": {"type": "string"}
		}
	}`)
)

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AccountResponse struct {
	Message string     `json:"message"`
	User    PublicUser `json:"user"`
	Token   string     `json:"token,omitempty"`
}

type Handler struct {
	service service
}

func NewHandler(service service) *Handler {
	return &Handler{
		service: service,
	}
}

func (h *Handler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.accounts.signup")
	defer span.End()

	var req SignupRequest
	if !decodeRequest(w, r, signupSchema, &req) {
		return
	}

	user, err := h.service.Signup(ctx, SignupParams{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if errors.Is(err, ErrUserExists) {
		pkg.WriteJSONError(w, "User already exists", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Errorf("signup failed: %s", err)
		pkg.WriteJSONError(w, "signup failed", http.StatusInternalServerError)
		return
	}

	writeAccountResponse(w, AccountResponse{
		Message: "Signup successful",
		User:    user.Public(),
	})
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.accounts.login")
	defer span.End()

	var req LoginRequest
	if !decodeRequest(w, r, loginSchema, &req) {
		return
	}

	user, token, err := h.service.Login(ctx, req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		pkg.WriteJSONError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		log.Errorf("login failed: %s", err)
		pkg.WriteJSONError(w, "login failed", http.StatusInternalServerError)
		return
	}

	writeAccountResponse(w, AccountResponse{
		Message: "Login successful",
		User:    user.Public(),
		Token:   token,
	})
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.accounts.logout")
	defer span.End()

	token := auth.BearerToken(r)
	if token == "" {
		pkg.WriteJSONError(w, "missing token", http.StatusBadRequest)
		return
	}

	if err := h.service.Logout(ctx, token); err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			pkg.WriteJSONError(w, "session not found", http.StatusNotFound)
			return
		}
		log.Errorf("logout failed: %s", err)
		pkg.WriteJSONError(w, "logout failed", http.StatusInternalServerError)
		return
	}

	pkg.WriteJSONResponseOK(w, `{"message":"Logout successful"}`)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, schema *validation.Schema, dst any) bool {
	err := schema.Decode(r.Body, dst)
	if err == nil {
		return true
	}

	log.Errorf("%s, decode request: %s", r.URL.Path, err)
	var invalidErr *validation.InvalidInputError
	if errors.As(err, &invalidErr) {
		pkg.WriteJSONError(w, invalidErr.Error(), http.StatusBadRequest)
		return false
	}
	pkg.WriteJSONError(w, "failed to read request", http.StatusInternalServerError)
	return false
}

func writeAccountResponse(w http.ResponseWriter, resp AccountResponse) {
	respJson, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("marshal account response: %s", err)
		pkg.WriteJSONError(w, "internal error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}
