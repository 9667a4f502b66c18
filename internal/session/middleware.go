package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const sessionContextKey contextKey = "cart.session"

// DefaultHeaderName lets API clients carry the cart session without cookies.
const DefaultHeaderName = "X-Cart-Session"

// Resolver resolves the cart session id from the request, issuing a cookie when
// the client has none.
type Resolver struct {
	CookieName string
	HeaderName string
	TTL        time.Duration
	Domain     string
	Secure     bool
	SameSite   http.SameSite
}

// NewResolver returns a resolver for the given cookie. If cookieName is empty,
// "trip_cart" is used.
func NewResolver(cookieName string, ttl time.Duration) *Resolver {
	if cookieName == "" {
		cookieName = "trip_cart"
	}
	return &Resolver{
		CookieName: cookieName,
		HeaderName: DefaultHeaderName,
		TTL:        ttl,
		SameSite:   http.SameSiteLaxMode,
	}
}

// Middleware resolves or issues the session id and injects it into the context.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := r.Resolve(req)
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, r.cookie(id))
		}
		ctx := req.Context()
		fp := Fingerprint(id)
		zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("cart_session", fp)
		})
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("cart.session", fp))
		next.ServeHTTP(w, req.WithContext(WithSession(ctx, id)))
	})
}

// Resolve returns the session id from the header or cookie, or "" when neither
// carries a well-formed id.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if r.HeaderName != "" {
		if id := normalize(req.Header.Get(r.HeaderName)); id != "" {
			return id
		}
	}
	if c, err := req.Cookie(r.CookieName); err == nil {
		return normalize(c.Value)
	}
	return ""
}

func (r *Resolver) cookie(id string) *http.Cookie {
	c := &http.Cookie{
		Name:     r.CookieName,
		Value:    id,
		Path:     "/",
		Domain:   r.Domain,
		HttpOnly: true,
		Secure:   r.Secure,
		SameSite: r.SameSite,
	}
	if r.TTL > 0 {
		c.MaxAge = int(r.TTL.Seconds())
	}
	return c
}

func normalize(raw string) string {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return id.String()
}

// WithSession stores the cart session id inside the context.
func WithSession(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionContextKey, id)
}

// FromContext returns the cart session id stored in ctx, if any.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionContextKey).(string)
	return id
}

// Fingerprint returns a short non-reversible tag for logging a session id.
func Fingerprint(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:4])
}
