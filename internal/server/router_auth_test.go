package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/offlinefirst/todosync/internal/auth"
	"github.com/offlinefirst/todosync/internal/todo"
	"github.com/offlinefirst/todosync/internal/users"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&todo.Note{}, &users.Account{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to build users service: %v", err)
	}
	store, err := todo.NewStore(todo.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build note store: %v", err)
	}
	applier, err := todo.NewApplier(todo.ApplierConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build applier: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tokens: auth.NewTokenIssuer(auth.TokenIssuerConfig{
			SigningSecret: []byte("router-test-secret"),
			Issuer:        "todosync-api",
			Audience:      "todosync-client",
			TokenTTL:      time.Hour,
		}),
		UsersService: usersService,
		NoteStore:    store,
		EventApplier: applier,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func performRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func signupForToken(t *testing.T, handler http.Handler, username string) string {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"password":"correct horse"}`, username)
	recorder := performRequest(t, handler, http.MethodPost, "/user/signup", body)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup failed with status %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		APIToken string `json:"api_token"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode signup response: %v", err)
	}
	if payload.APIToken == "" {
		t.Fatalf("expected a non-empty api token")
	}
	return payload.APIToken
}

func TestSignupIssuesToken(t *testing.T) {
	handler := newTestHandler(t)
	token := signupForToken(t, handler, "alice")

	recorder := performRequest(t, handler, http.MethodGet, "/todonotes?api_token="+token, "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected the fresh token to authorize, got %d", recorder.Code)
	}
}

func TestSignupRejectsDuplicateUsername(t *testing.T) {
	handler := newTestHandler(t)
	signupForToken(t, handler, "alice")

	recorder := performRequest(t, handler, http.MethodPost, "/user/signup",
		`{"username":"alice","password":"correct horse"}`)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", recorder.Code)
	}
	if recorder.Body.String() != `{"error":"username_taken"}` {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}

func TestSignupRejectsShortPassword(t *testing.T) {
	handler := newTestHandler(t)
	recorder := performRequest(t, handler, http.MethodPost, "/user/signup",
		`{"username":"alice","password":"short"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
}

func TestLoginReturnsTokenForValidCredentials(t *testing.T) {
	handler := newTestHandler(t)
	signupForToken(t, handler, "alice")

	recorder := performRequest(t, handler, http.MethodPost, "/user/login",
		`{"username":"alice","password":"correct horse"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok status, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		APIToken string `json:"api_token"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	if payload.APIToken == "" {
		t.Fatalf("expected a non-empty api token")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	handler := newTestHandler(t)
	signupForToken(t, handler, "alice")

	recorder := performRequest(t, handler, http.MethodPost, "/user/login",
		`{"username":"alice","password":"wrong password"}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	handler := newTestHandler(t)

	recorder := performRequest(t, handler, http.MethodGet, "/todonotes", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRejectMalformedToken(t *testing.T) {
	handler := newTestHandler(t)

	recorder := performRequest(t, handler, http.MethodGet, "/todonotes?api_token=not-a-jwt", "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}

func TestProtectedRoutesRejectForeignSignature(t *testing.T) {
	handler := newTestHandler(t)
	foreign := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("some other secret"),
		Issuer:        "todosync-api",
		Audience:      "todosync-client",
	})
	token, err := foreign.IssueToken(1)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	recorder := performRequest(t, handler, http.MethodGet, "/todonotes?api_token="+token, "")
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %d", recorder.Code)
	}
}
