package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret-key-for-auth"

func TestStatus_Uninitialized(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM admins`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

	h := NewHandler(mock, testSecret)
	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/auth/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Initialized || resp.Authenticated {
		t.Errorf("expected uninitialized unauthenticated status, got %+v", resp)
	}
}

func TestStatus_AuthenticatedToken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM admins`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	token, err := GenerateAccessToken(testSecret, "admin-1")
	if err != nil {
		t.Fatal(err)
	}

	h := NewHandler(mock, testSecret)
	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.Status(rec, req)

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Initialized || !resp.Authenticated {
		t.Errorf("expected initialized authenticated status, got %+v", resp)
	}
}

func TestInitialize_SecondTimeConflicts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM admins`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	h := NewHandler(mock, testSecret)
	body, _ := json.Marshal(credentialsRequest{Username: "admin", Password: "password123"})
	rec := httptest.NewRecorder()
	h.Initialize(rec, httptest.NewRequest(http.MethodPost, "/api/auth/initialize", bytes.NewReader(body)))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInitialize_CreatesAdminAndReturnsToken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM admins`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO admins`).
		WithArgs("admin", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("admin-1"))

	h := NewHandler(mock, testSecret)
	body, _ := json.Marshal(credentialsRequest{Username: "admin", Password: "password123"})
	rec := httptest.NewRecorder()
	h.Initialize(rec, httptest.NewRequest(http.MethodPost, "/api/auth/initialize", bytes.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	claims, err := ValidateToken(testSecret, resp.AccessToken)
	if err != nil {
		t.Fatalf("returned token invalid: %v", err)
	}
	if claims.UserID != "admin-1" {
		t.Errorf("expected user admin-1, got %q", claims.UserID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestInitialize_WeakPasswordRejected(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	h := NewHandler(mock, testSecret)
	body, _ := json.Marshal(credentialsRequest{Username: "admin", Password: "short"})
	rec := httptest.NewRecorder()
	h.Initialize(rec, httptest.NewRequest(http.MethodPost, "/api/auth/initialize", bytes.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestLogin_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	mock.ExpectQuery(`SELECT id, password FROM admins`).
		WithArgs("admin").
		WillReturnRows(pgxmock.NewRows([]string{"id", "password"}).AddRow("admin-1", string(hashed)))

	h := NewHandler(mock, testSecret)
	body, _ := json.Marshal(credentialsRequest{Username: "admin", Password: "password123"})
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	mock.ExpectQuery(`SELECT id, password FROM admins`).
		WithArgs("admin").
		WillReturnRows(pgxmock.NewRows([]string{"id", "password"}).AddRow("admin-1", string(hashed)))

	h := NewHandler(mock, testSecret)
	body, _ := json.Marshal(credentialsRequest{Username: "admin", Password: "wrong-password"})
	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body)))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	mock.ExpectQuery(`SELECT password FROM admins`).
		WithArgs("admin-1").
		WillReturnRows(pgxmock.NewRows([]string{"password"}).AddRow(string(hashed)))

	h := NewHandler(mock, testSecret)
	body, _ := json.Marshal(changePasswordRequest{CurrentPassword: "nope", NewPassword: "newpassword1"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", bytes.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), userIDKey, "admin-1"))
	rec := httptest.NewRecorder()
	h.ChangePassword(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsMissingHeader(t *testing.T) {
	h := NewHandler(nil, testSecret)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("next handler should not run")
	})
	rec := httptest.NewRecorder()
	h.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_PassesUserID(t *testing.T) {
	h := NewHandler(nil, testSecret)
	token, err := GenerateAccessToken(testSecret, "admin-7")
	if err != nil {
		t.Fatal(err)
	}

	var gotUserID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.Middleware(next).ServeHTTP(rec, req)

	if gotUserID != "admin-7" {
		t.Errorf("expected user admin-7 in context, got %q", gotUserID)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := GenerateAccessToken(testSecret, "admin-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateToken("different-secret", token); err == nil {
		t.Fatal("expected validation failure with wrong secret")
	}
}
