package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/robkhoughton/trainingmonkey/internal/telemetry/tracing"
	"github.com/robkhoughton/trainingmonkey/pkg"
)

const (
	HeaderOperatorToken = "X-TM-OPERATOR-TOKEN"
	HeaderOperatorName  = "X-TM-OPERATOR"
	HeaderIngestSecret  = "X-TM-INGEST-SECRET"

	defaultOperatorName = "operator"
	serviceCallerName   = "ingest-service"
)

type operatorCtxKey struct{}

func WithOperator(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, operatorCtxKey{}, name)
}

// OperatorFromContext returns the authenticated caller name, or "" when the
// request did not pass the auth middleware.
func OperatorFromContext(ctx context.Context) string {
	name, _ := ctx.Value(operatorCtxKey{}).(string)
	return name
}

// paths the ingestion/app backend may call with the shared secret
var servicePaths = []*regexp.Regexp{
	regexp.MustCompile(`^/acwr/loads$`),
	regexp.MustCompile(`^/acwr/users/\d+/metrics$`),
	regexp.MustCompile(`^/acwr/users/\d+/calculate$`),
}

type AuthMiddlewareHandler struct {
	operatorTokenHash string
	ingestSecret      string
	allowedPaths      map[string]bool

	// bcrypt is slow on purpose; remember tokens that already matched
	verifiedMu sync.RWMutex
	verified   map[string]bool
}

func NewAuthMiddlewareHandler(operatorTokenHash, ingestSecret string) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		operatorTokenHash: operatorTokenHash,
		ingestSecret:      ingestSecret,
		allowedPaths: map[string]bool{
			"/health":  true,
			"/version": true,
		},
		verified: make(map[string]bool),
	}
}

func (h *AuthMiddlewareHandler) AuthCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.auth")
			defer span.End()

			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, POST, DELETE, OPTIONS")
				w.WriteHeader(http.StatusOK)
				span.SetStatus(codes.Ok, "options-ok")
				return
			}

			if h.allowedPaths[r.URL.Path] {
				span.SetStatus(codes.Ok, "ok")
				next.ServeHTTP(w, r)
				return
			}

			if secret := r.Header.Get(HeaderIngestSecret); secret != "" && isServicePath(r.URL.Path) {
				if h.ingestSecret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(h.ingestSecret)) == 1 {
					span.SetStatus(codes.Ok, "ok-service")
					next.ServeHTTP(w, r.WithContext(WithOperator(ctx, serviceCallerName)))
					return
				}
				log.Warnf("[invalid ingest secret] [auth middleware] from %s => %s", pkg.ClientIP(r), r.URL.Path)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "invalid-ingest-secret")
				return
			}

			token := r.Header.Get(HeaderOperatorToken)
			if token == "" {
				log.Tracef("[missing token] [auth middleware] unauthorized => %s", r.URL.Path)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "missing-auth-token")
				return
			}
			if !h.tokenValid(token) {
				log.Warnf("[invalid token] [auth middleware] from %s => %s", pkg.ClientIP(r), r.URL.Path)
				http.Error(w, "no can do", http.StatusUnauthorized)
				span.SetStatus(codes.Error, "invalid-token")
				return
			}

			name := strings.TrimSpace(r.Header.Get(HeaderOperatorName))
			if name == "" {
				name = defaultOperatorName
			}
			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r.WithContext(WithOperator(ctx, name)))
		})
	}
}

func (h *AuthMiddlewareHandler) tokenValid(token string) bool {
	h.verifiedMu.RLock()
	ok := h.verified[token]
	h.verifiedMu.RUnlock()
	if ok {
		return true
	}

	if !pkg.CheckSecretHash(token, h.operatorTokenHash) {
		return false
	}
	h.verifiedMu.Lock()
	h.verified[token] = true
	h.verifiedMu.Unlock()
	return true
}

func isServicePath(path string) bool {
	for _, re := range servicePaths {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
