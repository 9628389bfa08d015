package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(s *Service) *mux.Router {
	h := NewHandler(s)
	r := mux.NewRouter()
	r.HandleFunc("/api/auth/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", h.Login).Methods(http.MethodPost)

	protected := r.PathPrefix("/api/auth").Subrouter()
	protected.Use(s.AuthMiddleware)
	protected.HandleFunc("/update-avatar", h.UpdateAvatar).Methods(http.MethodPut)
	protected.HandleFunc("/me", h.Me).Methods(http.MethodGet)
	return r
}

func do(t *testing.T, router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Register(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "success",
			body:       `{"username":"alice","email":"alice@campus.edu","password":"password1"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "malformed body",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "missing fields",
			body:       `{"username":"alice"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "username, email, and password are required",
		},
		{
			name:       "bad email",
			body:       `{"username":"alice","email":"alice","password":"password1"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid email",
		},
		{
			name:       "short password",
			body:       `{"username":"alice","email":"alice@campus.edu","password":"short"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "password must be at least 8 characters",
		},
		{
			name:       "password longer than bcrypt accepts",
			body:       `{"username":"alice","email":"alice@campus.edu","password":"` + strings.Repeat("p", 73) + `"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "password must be at most 72 bytes",
		},
		{
			name:       "password at bcrypt limit",
			body:       `{"username":"alice","email":"alice@campus.edu","password":"` + strings.Repeat("p", 72) + `"}`,
			wantStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(newTestService())
			rec := do(t, router, http.MethodPost, "/api/auth/register", tt.body, "")
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantError != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantError, body["error"])
				return
			}

			var result AuthResult
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
			assert.NotEmpty(t, result.Token)
			assert.Equal(t, "alice", result.User.Username)
		})
	}
}

func TestHandler_RegisterConflict(t *testing.T) {
	router := newTestRouter(newTestService())
	body := `{"username":"alice","email":"alice@campus.edu","password":"password1"}`

	require.Equal(t, http.StatusCreated, do(t, router, http.MethodPost, "/api/auth/register", body, "").Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/api/auth/register", body, "").Code)
}

func TestHandler_Login(t *testing.T) {
	router := newTestRouter(newTestService())
	rec := do(t, router, http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"alice@campus.edu","password":"password1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "success", body: `{"email":"alice@campus.edu","password":"password1"}`, wantStatus: http.StatusOK},
		{name: "wrong password", body: `{"email":"alice@campus.edu","password":"password2"}`, wantStatus: http.StatusUnauthorized},
		{name: "missing password", body: `{"email":"alice@campus.edu"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed", body: `nope`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/auth/login", tt.body, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestHandler_ProtectedRoutes(t *testing.T) {
	router := newTestRouter(newTestService())
	rec := do(t, router, http.MethodPost, "/api/auth/register",
		`{"username":"alice","email":"alice@campus.edu","password":"password1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var reg AuthResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))

	t.Run("update avatar", func(t *testing.T) {
		rec := do(t, router, http.MethodPut, "/api/auth/update-avatar",
			`{"playerName":" Ali ","avatarID":"avatar3"}`, reg.Token)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			User User `json:"user"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Ali", body.User.PlayerName)
		assert.Equal(t, "avatar3", body.User.AvatarID)
	})

	t.Run("update avatar requires player name", func(t *testing.T) {
		rec := do(t, router, http.MethodPut, "/api/auth/update-avatar", `{"avatarID":"avatar3"}`, reg.Token)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("me", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/api/auth/me", "", reg.Token)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			User User `json:"user"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, reg.User.ID, body.User.ID)
		assert.Equal(t, "Ali", body.User.PlayerName)
	})
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestService()
	token, err := s.issueToken("user_123")
	require.NoError(t, err)

	var seen string
	protected := s.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantError  string
	}{
		{name: "valid", header: "Bearer " + token, wantStatus: http.StatusNoContent},
		{name: "lowercase scheme", header: "bearer " + token, wantStatus: http.StatusNoContent},
		{name: "missing", header: "", wantStatus: http.StatusUnauthorized, wantError: "missing authorization header"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantError: "invalid authorization format"},
		{name: "no token", header: "Bearer", wantStatus: http.StatusUnauthorized, wantError: "invalid authorization format"},
		{name: "blank token", header: "Bearer   ", wantStatus: http.StatusUnauthorized, wantError: "invalid authorization format"},
		{name: "bad token", header: "Bearer nope", wantStatus: http.StatusUnauthorized, wantError: "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError == "" {
				assert.Equal(t, "user_123", seen)
				return
			}
			assert.Empty(t, seen)
			assert.Equal(t, `Bearer realm="campus"`, rec.Header().Get("WWW-Authenticate"))
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}
