package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/virtualtour/virtualtour/internal/database"
	"github.com/virtualtour/virtualtour/internal/httputil"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userIDKey contextKey = "userID"

// Handler implements the single-admin authentication surface: the panel is
// initialized once with an admin account, after which login and password
// change are the only mutations.
type Handler struct {
	db        database.DBTX
	jwtSecret string
}

func NewHandler(db database.DBTX, jwtSecret string) *Handler {
	return &Handler{db: db, jwtSecret: jwtSecret}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type statusResponse struct {
	Initialized   bool `json:"initialized"`
	Authenticated bool `json:"authenticated"`
}

// Status reports whether an admin account exists and whether the caller's
// bearer token (if any) is valid.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var count int
	if err := h.db.QueryRow(r.Context(), "SELECT COUNT(*) FROM admins").Scan(&count); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to check admin account")
		return
	}

	authenticated := false
	if tokenStr, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); found {
		if claims, err := ValidateToken(h.jwtSecret, tokenStr); err == nil && claims.TokenType == "access" {
			authenticated = true
		}
	}

	httputil.WriteJSON(w, http.StatusOK, statusResponse{
		Initialized:   count > 0,
		Authenticated: authenticated,
	})
}

// Initialize creates the first (and only) admin account. It refuses to run a
// second time.
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if msg := passwordPolicy(req.Password); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var count int
	if err := h.db.QueryRow(r.Context(), "SELECT COUNT(*) FROM admins").Scan(&count); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to check admin account")
		return
	}
	if count > 0 {
		httputil.WriteError(w, http.StatusConflict, "admin account already initialized")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	var userID string
	err = h.db.QueryRow(r.Context(),
		"INSERT INTO admins (username, password) VALUES ($1, $2) RETURNING id",
		req.Username, string(hashed),
	).Scan(&userID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create admin account")
		return
	}

	token, err := GenerateAccessToken(h.jwtSecret, userID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tokenResponse{AccessToken: token})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	var userID, hashed string
	err := h.db.QueryRow(r.Context(),
		"SELECT id, password FROM admins WHERE username = $1", req.Username,
	).Scan(&userID, &hashed)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(req.Password)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := GenerateAccessToken(h.jwtSecret, userID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{AccessToken: token})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req changePasswordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := passwordPolicy(req.NewPassword); msg != "" {
		httputil.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	var hashed string
	err := h.db.QueryRow(r.Context(), "SELECT password FROM admins WHERE id = $1", userID).Scan(&hashed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httputil.WriteError(w, http.StatusUnauthorized, "account not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load account")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(req.CurrentPassword)); err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	newHashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	if _, err := h.db.Exec(r.Context(),
		"UPDATE admins SET password = $1, updated_at = now() WHERE id = $2",
		string(newHashed), userID,
	); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update password")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		tokenStr, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := ValidateToken(h.jwtSecret, tokenStr)
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if claims.TokenType != "access" {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token type")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func passwordPolicy(password string) string {
	if len(password) < 8 {
		return "password must be at least 8 characters"
	}
	if len(password) > 72 {
		return "password must be at most 72 characters"
	}
	return ""
}
