package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wattmate/internal/logger"
	helpers "wattmate/internal/utils/helpres"
)

// RateLimiter allows max requests per client in fixed windows. A window opens with the
// client's first request and its quota does not refill until the window ends.
type RateLimiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	max        int
	length     time.Duration
	message    string
	trustProxy bool
	lastPrune  time.Time
	now        func() time.Time
}

type window struct {
	// a zero rate never refills, so the burst is the whole quota
	quota *rate.Limiter
	start time.Time
}

func NewRateLimiter(max int, length time.Duration, message string) *RateLimiter {
	if max <= 0 {
		max = 1
	}
	if length <= 0 {
		length = time.Minute
	}
	return &RateLimiter{
		windows: make(map[string]*window),
		max:     max,
		length:  length,
		message: message,
		now:     time.Now,
	}
}

// TrustForwarded keys clients on the first X-Forwarded-For hop instead of the socket
// address. Only enable it behind a proxy that overwrites the header.
func (l *RateLimiter) TrustForwarded(on bool) *RateLimiter {
	l.trustProxy = on
	return l
}

type verdict struct {
	ok        bool
	remaining int
	reset     time.Duration
}

func (l *RateLimiter) allow(key string) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > l.length {
		for k, w := range l.windows {
			if now.Sub(w.start) >= l.length {
				delete(l.windows, k)
			}
		}
		l.lastPrune = now
	}

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.length {
		w = &window{quota: rate.NewLimiter(0, l.max), start: now}
		l.windows[key] = w
	}
	allowed := w.quota.AllowN(now, 1)
	return verdict{
		ok:        allowed,
		remaining: int(w.quota.TokensAt(now)),
		reset:     w.start.Add(l.length).Sub(now),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, l.trustProxy)
		v := l.allow(ip)
		resetSecs := strconv.Itoa(int(math.Ceil(v.reset.Seconds())))

		w.Header().Set("RateLimit-Limit", strconv.Itoa(l.max))
		w.Header().Set("RateLimit-Remaining", strconv.Itoa(v.remaining))
		w.Header().Set("RateLimit-Reset", resetSecs)
		if !v.ok {
			logger.WithCtx(r.Context()).Warn("Rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", resetSecs)
			helpers.ErrorCode(w, http.StatusTooManyRequests, helpers.CodeRateLimited, l.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the socket peer unless forwarded headers are trusted.
func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
