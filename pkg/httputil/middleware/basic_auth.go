package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/edgeflare/restless/pkg/httputil"
)

// BasicAuthConfig maps user names to passwords.
type BasicAuthConfig struct {
	Realm       string
	Credentials map[string]string
}

func BasicAuthCreds(credentials map[string]string) *BasicAuthConfig {
	return &BasicAuthConfig{Realm: "restless", Credentials: credentials}
}

// VerifyBasicAuth rejects requests without valid credentials with a 401 JSON
// message. OPTIONS requests pass so CORS preflights keep working.
func VerifyBasicAuth(config *BasicAuthConfig) func(http.Handler) http.Handler {
	challenge := `Basic realm="` + config.Realm + `"`
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", challenge)
				httputil.Error(w, http.StatusUnauthorized, "Authorization required")
				return
			}

			want, known := config.Credentials[user]
			if !known || subtle.ConstantTimeCompare([]byte(want), []byte(pass)) != 1 {
				w.Header().Set("WWW-Authenticate", challenge)
				httputil.Error(w, http.StatusUnauthorized, "Invalid credentials")
				return
			}

			ctx := context.WithValue(r.Context(), httputil.BasicAuthCtxKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
