package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"golang.org/x/time/rate"

	"modalhub/internal/logging"
)

const (
	ToolRateWindow       = time.Minute
	WebSearchHTTPTimeout = 10 * time.Second

	maxFetchBodySize = 512 * 1024
)

// ErrToolRateLimited is returned when a session exceeds its tool budget.
var ErrToolRateLimited = errors.New("tool rate limit exceeded, please retry in a minute")

type sessionLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// toolRateLimiter keeps one token bucket per session. A bucket refills
// completely within one window, so buckets idle for a window are dropped.
type toolRateLimiter struct {
	limit     int
	window    time.Duration
	now       func() time.Time
	mu        sync.Mutex
	limiters  map[string]*sessionLimiter
	lastSweep time.Time
}

func newToolRateLimiter(limit int, window time.Duration) *toolRateLimiter {
	return &toolRateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		limiters: make(map[string]*sessionLimiter),
	}
}

// Allow charges one call to key.
func (l *toolRateLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(now)
	}
	entry, ok := l.limiters[key]
	if !ok {
		entry = &sessionLimiter{limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *toolRateLimiter) sweepLocked(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.window {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

// limitedTool charges every invocation against the calling session.
type limitedTool struct {
	tool.InvokableTool
	limiter *toolRateLimiter
}

func (t *limitedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	key := logging.SessionIDFromContext(ctx)
	if key == "" {
		key = "anonymous"
	}
	if !t.limiter.Allow(key) {
		return "", ErrToolRateLimited
	}
	return t.InvokableTool.InvokableRun(ctx, argumentsInJSON, opts...)
}

func (w *webSearchTool) fetchURL(ctx context.Context, target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("unsupported url scheme")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "modalhub-websearch/1.0")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func looksLikeURL(input string) bool {
	lower := strings.ToLower(input)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
