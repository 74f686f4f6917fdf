package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterTTL           = 10 * time.Minute
	limiterCleanupPeriod = time.Minute
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool: token bucket на каждый ключ (IP). Записи, не использованные дольше ttl,
// удаляет фоновая очистка, иначе карта растёт с каждым новым адресом.
type limiterPool struct {
	mu           sync.Mutex
	m            map[string]*limiterEntry
	rps          float64
	burst        int
	ttl          time.Duration
	period       time.Duration
	now          func() time.Time
	startCleanup sync.Once
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &limiterPool{
		m:      make(map[string]*limiterEntry),
		rps:    rps,
		burst:  burst,
		ttl:    limiterTTL,
		period: limiterCleanupPeriod,
		now:    time.Now,
	}
}

// get возвращает limiter ключа (создаёт при первом обращении) и обновляет lastSeen.
// Фоновая очистка запускается лениво при первом вызове.
func (p *limiterPool) get(key string) *rate.Limiter {
	p.startCleanup.Do(func() { go p.cleanupLoop() })

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func (p *limiterPool) cleanupLoop() {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for range ticker.C {
		p.evict()
	}
}

// evict удаляет записи, не использованные дольше ttl. Возвращает число удалённых.
func (p *limiterPool) evict() int {
	cutoff := p.now().Add(-p.ttl)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

func (p *limiterPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// RateLimitByIP ограничивает запросы по IP клиента, при превышении отвечает 429.
// За chi RealIP в RemoteAddr уже лежит адрес из X-Real-Ip / X-Forwarded-For.
func RateLimitByIP(rps float64, burst int) func(http.Handler) http.Handler {
	pool := newLimiterPool(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pool.Allow(clientIP(r)) {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
