package api

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/albapepper/ops-reminders/internal/api/respond"
)

// --------------------------------------------------------------------------
// Request timing middleware
// --------------------------------------------------------------------------

// timingWriter stamps X-Process-Time just before the header is written.
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (t *timingWriter) WriteHeader(status int) {
	if !t.wroteHeader {
		t.wroteHeader = true
		elapsed := time.Since(t.start)
		t.Header().Set("X-Process-Time", fmt.Sprintf("%.2fms", float64(elapsed.Microseconds())/1000.0))
	}
	t.ResponseWriter.WriteHeader(status)
}

func (t *timingWriter) Write(b []byte) (int, error) {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}
	return t.ResponseWriter.Write(b)
}

// TimingMiddleware adds X-Process-Time header to all responses.
func TimingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&timingWriter{ResponseWriter: w, start: time.Now()}, r)
	})
}

// --------------------------------------------------------------------------
// Manual run throttling (token bucket per client and job)
// --------------------------------------------------------------------------

type runKey struct {
	client string
	job    string
}

type runBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// runLimiter throttles POST /jobs/{name}/run. Each client gets its own
// bucket per job, so hammering one job never blocks runs of another.
// Buckets idle for longer than idle are dropped.
type runLimiter struct {
	mu      sync.Mutex
	buckets map[runKey]*runBucket
	every   rate.Limit
	burst   int
	idle    time.Duration
	swept   time.Time
	now     func() time.Time
}

func newRunLimiter(runsPerWindow int, window time.Duration) *runLimiter {
	runsPerWindow = max(runsPerWindow, 1)
	return &runLimiter{
		buckets: make(map[runKey]*runBucket),
		every:   rate.Every(window / time.Duration(runsPerWindow)),
		burst:   max(runsPerWindow/2, 1),
		idle:    2 * window,
		now:     time.Now,
	}
}

// wait reports how long key must wait before its next run; zero admits the
// run and consumes a token.
func (l *runLimiter) wait(key runKey) time.Duration {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.idle {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.idle {
				delete(l.buckets, k)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &runBucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return d
	}
	return 0
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || ip == "" {
		return r.RemoteAddr
	}
	return ip
}

// RunRateLimit returns middleware for the job run route that admits
// runsPerWindow runs per client and job, with a burst of half that.
func RunRateLimit(runsPerWindow int, window time.Duration) func(http.Handler) http.Handler {
	return newRunLimiter(runsPerWindow, window).middleware
}

func (l *runLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		job := chi.URLParam(r, "name")
		if d := l.wait(runKey{client: clientIP(r), job: job}); d > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
			respond.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many run requests for "+job)
			return
		}
		next.ServeHTTP(w, r)
	})
}
