package httpapi

import (
	"context"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

type ctxKey string

const userKey ctxKey = "dirup.user"

// UserFromContext returns the authenticated user, or "" when auth is off.
func UserFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userKey).(string)
	return v
}

// dummyHash is compared against when the user is unknown so both paths
// cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dirup"), bcrypt.MinCost)

// requireAuth wraps next with BasicAuth against bcrypt hashes. An empty
// user table lets every request through.
func requireAuth(users map[string]string, next http.Handler) http.Handler {
	if len(users) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u == "" {
			deny(w)
			return
		}
		hash, known := users[u]
		if !known {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(p))
			deny(w)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)); err != nil {
			deny(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

func deny(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="dirup"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// HashPassword returns the bcrypt hash stored in the [users] table.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
