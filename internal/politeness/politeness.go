package politeness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	"github.com/knowledge-engine/kwic/internal/config"
)

var (
	// ErrDisallowed is returned when robots.txt forbids the URL.
	ErrDisallowed = errors.New("blocked by robots.txt")
	// ErrUnsupportedURL is returned for non-http(s) or host-less URLs.
	ErrUnsupportedURL = errors.New("unsupported url")
)

// Manager gates outbound requests: robots.txt first, then a per-host rate
// limit.
type Manager struct {
	config    config.PolitenessConfig
	userAgent string
	client    *http.Client
	logger    *logrus.Entry

	limiters    map[string]*rate.Limiter
	robotsCache map[string]*robotsEntry
	mu          sync.Mutex

	stats Statistics
}

type robotsEntry struct {
	robots    *robotstxt.RobotsData
	fetchTime time.Time
}

// Statistics holds politeness counters
type Statistics struct {
	Allowed  int64 `json:"allowed"`
	Rejected int64 `json:"rejected"`
	Hosts    int   `json:"hosts"`
}

func NewManager(cfg config.PolitenessConfig, userAgent string, client *http.Client, logger *logrus.Entry) *Manager {
	if logger == nil {
		logger = logrus.WithField("component", "politeness")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Manager{
		config:      cfg,
		userAgent:   userAgent,
		client:      client,
		logger:      logger,
		limiters:    make(map[string]*rate.Limiter),
		robotsCache: make(map[string]*robotsEntry),
	}
}

// Wait blocks until a request to rawURL is allowed, or returns why it is not.
func (m *Manager) Wait(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		m.reject()
		return fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}

	allowed, err := m.IsURLAllowed(ctx, u)
	if err != nil {
		return err
	}
	if !allowed {
		m.reject()
		m.logger.WithField("url", rawURL).Debug("URL blocked by robots.txt")
		return fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}

	if err := m.limiter(u.Host).Wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.stats.Allowed++
	m.mu.Unlock()
	return nil
}

// IsURLAllowed checks if URL is allowed according to robots.txt
func (m *Manager) IsURLAllowed(ctx context.Context, u *url.URL) (bool, error) {
	if !m.config.EnableRobotsCheck {
		return true, nil
	}

	robotsData, err := m.getRobotsData(ctx, u)
	if err != nil {
		m.logger.WithError(err).WithField("domain", u.Host).Warn("Failed to get robots.txt, allowing request")
		return true, nil
	}
	if robotsData == nil {
		return true, nil
	}

	group := robotsData.FindGroup(m.userAgent)
	if group == nil {
		return true, nil
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return group.Test(path), nil
}

func (m *Manager) limiter(host string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limiters[host]
	if !ok {
		burst := m.config.Burst
		if burst <= 0 {
			burst = 1
		}
		limit := rate.Inf
		if m.config.MinDelay > 0 {
			limit = rate.Every(m.config.MinDelay)
		}
		l = rate.NewLimiter(limit, burst)
		m.limiters[host] = l
	}
	return l
}

// getRobotsData fetches and caches robots.txt data. A missing robots.txt is
// cached as nil.
func (m *Manager) getRobotsData(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	m.mu.Lock()
	entry, exists := m.robotsCache[u.Host]
	m.mu.Unlock()

	if exists && time.Since(entry.fetchTime) < m.config.RobotsCacheDuration {
		return entry.robots, nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create robots.txt request: %w", err)
	}
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	var robotsData *robotstxt.RobotsData
	if resp.StatusCode == http.StatusOK {
		robotsData, err = robotstxt.FromResponse(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse robots.txt: %w", err)
		}
	}

	m.mu.Lock()
	m.robotsCache[u.Host] = &robotsEntry{robots: robotsData, fetchTime: time.Now()}
	m.mu.Unlock()

	return robotsData, nil
}

// Cleanup drops robots cache entries older than the cache duration
func (m *Manager) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for host, entry := range m.robotsCache {
		if now.Sub(entry.fetchTime) > m.config.RobotsCacheDuration {
			delete(m.robotsCache, host)
			removed++
		}
	}
	if removed > 0 {
		m.logger.WithField("expired_robots", removed).Debug("Cleanup completed")
	}
	return removed
}

// GetStatistics returns a copy of the current counters
func (m *Manager) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Hosts = len(m.limiters)
	return s
}

func (m *Manager) reject() {
	m.mu.Lock()
	m.stats.Rejected++
	m.mu.Unlock()
}
