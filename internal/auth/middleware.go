package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

var (
	errNoAuthHeader   = errors.New("missing authorization header")
	errBadAuthHeader  = errors.New("invalid authorization format")
	errRejectedBearer = errors.New("invalid token")
)

type userIDKey struct{}

// bearerToken reads "Authorization: Bearer <token>". The scheme match ignores case.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoAuthHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errBadAuthHeader
	}
	return token, nil
}

// AuthMiddleware rejects requests without a valid bearer token and puts the token's subject
// in the request context for UserIDFromContext.
func (s *Service) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			unauthorized(w, err)
			return
		}

		userID, err := s.ValidateToken(token)
		if err != nil {
			slog.Debug("bearer token rejected", "error", err, "path", r.URL.Path)
			unauthorized(w, errRejectedBearer)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func unauthorized(w http.ResponseWriter, reason error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="campus"`)
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": reason.Error()})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}
