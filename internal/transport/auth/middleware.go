package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"coop-settlement/internal/domain"
)

type ctxKey string

const principalKey ctxKey = "principal"

// ServiceRef identifies calls made with the static service token.
const ServiceRef = "service"

type TokenLookup interface {
	FindTokenByPlainToken(ctx context.Context, plainToken string) (*domain.AccessToken, error)
}

type Principal struct {
	Ref   string
	token *domain.AccessToken
}

func (p *Principal) Can(ability string) bool {
	if p.token == nil {
		return p.Ref == ServiceRef
	}
	return p.token.Can(ability)
}

// TokenMiddleware accepts a bearer token from the Authorization header or the
// token query parameter (used by websocket clients). serviceToken, when set,
// authenticates as the service principal with every ability.
func TokenMiddleware(tokens TokenLookup, serviceToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plain := bearer(r)
			if plain == "" {
				log.Printf("[AUTH] %s %s: no token -> 401", r.Method, r.URL.Path)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			var principal *Principal
			if serviceToken != "" && subtle.ConstantTimeCompare([]byte(plain), []byte(serviceToken)) == 1 {
				principal = &Principal{Ref: ServiceRef}
			} else if tokens != nil {
				t, err := tokens.FindTokenByPlainToken(r.Context(), plain)
				if err != nil {
					log.Printf("[AUTH] %s %s: token lookup failed: %v", r.Method, r.URL.Path, err)
				} else if t.Expired(time.Now()) {
					http.Error(w, "Token expired", http.StatusUnauthorized)
					return
				} else {
					principal = &Principal{Ref: t.OwnerRef, token: t}
				}
			}

			if principal == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAbility rejects principals whose token does not grant ability.
func RequireAbility(ability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := GetPrincipal(r.Context())
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !p.Can(ability) {
				log.Printf("[AUTH] %s lacks %s for %s %s", p.Ref, ability, r.Method, r.URL.Path)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetPrincipal(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey).(*Principal)
	if !ok {
		return nil, errors.New("principal not found in context")
	}
	return p, nil
}

func GetUserRef(ctx context.Context) (string, error) {
	p, err := GetPrincipal(ctx)
	if err != nil {
		return "", err
	}
	return p.Ref, nil
}

// WithPrincipal stores p in ctx. Used by tests and internal callers.
func WithPrincipal(ctx context.Context, ref string, token *domain.AccessToken) context.Context {
	return context.WithValue(ctx, principalKey, &Principal{Ref: ref, token: token})
}

func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if t := strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")); t != "" {
			return t
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
