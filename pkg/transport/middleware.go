package transport

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"storefront/pkg/domain/model"
)

var securityHeaders = map[string]string{
	"X-DNS-Prefetch-Control":    "on",
	"Strict-Transport-Security": "max-age=63072000; includeSubDomains; preload",
	"X-XSS-Protection":          "1; mode=block",
	"X-Frame-Options":           "SAMEORIGIN",
	"X-Content-Type-Options":    "nosniff",
	"Referrer-Policy":           "origin-when-cross-origin",
	"Permissions-Policy":        "camera=(), microphone=(), geolocation=(), interest-cohort=()",
	"Content-Security-Policy": "default-src 'self'; script-src 'self' 'unsafe-eval' 'unsafe-inline'; " +
		"style-src 'self' 'unsafe-inline'; img-src 'self' blob: data: https:; font-src 'self'; " +
		"object-src 'none'; base-uri 'self'; form-action 'self'; frame-ancestors 'none'; " +
		"block-all-mixed-content; upgrade-insecure-requests;",
}

// rateLimitedPrefixes are the paths guarded by the rate limiter.
var rateLimitedPrefixes = []string{"/api/payments", "/api/admin"}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(recorder, r)
		log.WithFields(log.Fields{
			"method":     r.Method,
			"url":        r.URL,
			"remoteAddr": r.RemoteAddr,
			"userAgent":  r.UserAgent(),
			"status":     recorder.status,
			"duration":   time.Since(start).String(),
		}).Info("handled request")
	})
}

func securityHeadersMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range securityHeaders {
			w.Header().Set(name, value)
		}
		h.ServeHTTP(w, r)
	})
}

// TokenVerifier turns a bearer token into the caller's principal.
type TokenVerifier interface {
	Verify(token string) (model.Principal, error)
}

// authMiddleware attaches the principal of a valid bearer token to the
// request context. Requests without a token pass through anonymously and
// services decide what requires authentication.
func authMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || verifier == nil {
				h.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeError(w, r, model.ErrAuthenticationRequired)
				return
			}
			principal, err := verifier.Verify(strings.TrimSpace(token))
			if err != nil {
				writeError(w, r, err)
				return
			}
			h.ServeHTTP(w, r.WithContext(model.WithPrincipal(r.Context(), principal)))
		})
	}
}

func rateLimitMiddleware(limiter model.RateLimiter) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || !rateLimited(r.URL.Path) {
				h.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), clientIP(r))
			if err != nil {
				log.WithError(err).Warn("rate limiter unavailable, allowing request")
				h.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.UnixMilli(), 10))
			if !decision.Allowed {
				log.WithField("client", clientIP(r)).Warn("rate limit exceeded")
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("Too Many Requests"))
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

func rateLimited(path string) bool {
	for _, prefix := range rateLimitedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
