package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/learnkit/authn"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Chain wraps h so that mws[0] is the outermost middleware.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RequestID reuses an incoming X-Request-ID or mints a KSUID.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > 64 {
				id = ksuid.New().String()
			}
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(authn.WithRequestID(r.Context(), id)))
		})
	}
}

// ClientIP stores the peer address from RemoteAddr in the request context.
// Forwarded headers are not trusted.
func ClientIP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(authn.WithClientIP(r.Context(), remoteHost(r))))
		})
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SecurityHeaders sets response headers every auth endpoint should carry.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "same-origin")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// AccessLog writes one zap line per request. Query strings are not logged.
func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int("bytes", rec.bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", authn.RequestIDFromContext(r.Context())),
			)
		})
	}
}

const (
	floodIdleTTL    = 3 * time.Minute
	floodMaxClients = 10000
)

// FloodLimit caps requests per client IP with a token bucket. A
// non-positive rps disables it. Limiters idle for longer than a few
// minutes are dropped.
func FloodLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	f := newFloodLimiter(rps, burst, floodIdleTTL, floodMaxClients, time.Now)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !f.allow(remoteHost(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type floodEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type floodLimiter struct {
	rps   rate.Limit
	burst int
	idle  time.Duration
	max   int
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*floodEntry
	lastSweep time.Time
}

func newFloodLimiter(rps float64, burst int, idle time.Duration, max int, now func() time.Time) *floodLimiter {
	if burst < 1 {
		burst = 1
	}
	return &floodLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		idle:      idle,
		max:       max,
		now:       now,
		clients:   make(map[string]*floodEntry),
		lastSweep: now(),
	}
}

func (f *floodLimiter) allow(ip string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if now.Sub(f.lastSweep) >= f.idle {
		f.sweep(now)
	}
	e, ok := f.clients[ip]
	if !ok {
		if len(f.clients) >= f.max {
			f.sweep(now)
			if len(f.clients) >= f.max {
				f.evictOldest()
			}
		}
		e = &floodEntry{lim: rate.NewLimiter(f.rps, f.burst)}
		f.clients[ip] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// sweep drops entries not seen within the idle window. Caller holds mu.
func (f *floodLimiter) sweep(now time.Time) {
	for ip, e := range f.clients {
		if now.Sub(e.lastSeen) >= f.idle {
			delete(f.clients, ip)
		}
	}
	f.lastSweep = now
}

func (f *floodLimiter) evictOldest() {
	var (
		oldest string
		seen   time.Time
	)
	for ip, e := range f.clients {
		if oldest == "" || e.lastSeen.Before(seen) {
			oldest, seen = ip, e.lastSeen
		}
	}
	delete(f.clients, oldest)
}

func (f *floodLimiter) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}
