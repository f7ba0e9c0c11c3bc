package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ignite/caseyos/internal/domain"
	"github.com/ignite/caseyos/internal/pkg/httputil"
)

// csrfCookie is the double-submit cookie name. Its value and the
// X-CSRF-Token header must match and both must verify against secret.
const csrfCookie = "casey_csrf"

// csrfExemptPrefixes is the CSRF whitelist: webhooks, health
// checks, OAuth callbacks, and the MCP surface never require a token.
var csrfExemptPrefixes = []string{"/api/webhooks/", "/health", "/auth/", "/mcp/"}

// CSRFGuard issues and verifies double-submit JWTs signed with a shared
// secret, narrowed to a single stateless claim rather than a server-side
// session.
type CSRFGuard struct {
	secret []byte
}

// NewCSRFGuard creates a CSRFGuard.
func NewCSRFGuard(secret string) *CSRFGuard {
	return &CSRFGuard{secret: []byte(secret)}
}

// IssueToken mints a fresh CSRF token tied to no other state; any valid
// token is accepted as long as it was signed with secret and not expired.
func (g *CSRFGuard) IssueToken() (string, error) {
	claims := jwt.MapClaims{
		"csrf": domain.NewID(),
		"exp":  time.Now().Add(2 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}

// Middleware enforces the double-submit check on state-changing requests
// outside the exempt prefixes.
func (g *CSRFGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range csrfExemptPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		header := r.Header.Get("X-CSRF-Token")
		cookie, err := r.Cookie(csrfCookie)
		if err != nil || header == "" || header != cookie.Value {
			httputil.Error(w, http.StatusForbidden, "missing or mismatched csrf token")
			return
		}
		if !g.valid(header) {
			httputil.Error(w, http.StatusForbidden, "invalid csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *CSRFGuard) valid(tokenString string) bool {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && token.Valid
}
