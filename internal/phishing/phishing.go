// Package phishing maintains a deny-list of known-malicious hosts, fetched
// from a community-maintained feed and refreshed in the background. Pages
// query it before following redirects; a match means the navigation must be
// stopped.
package phishing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const fetchTimeout = 30 * time.Second

// denyList is the wire shape of the feed. The allow list exists in the feed
// but plays no part in matching; deny entries always win.
type denyList struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// Checker answers "is this URL on the deny-list" from an in-memory snapshot.
type Checker struct {
	listURL string
	client  *http.Client

	mu    sync.RWMutex
	deny  map[string]struct{}
	since time.Time
}

// New creates a checker with an empty list. Call Refresh or Run to populate it.
func New(listURL string) *Checker {
	return &Checker{
		listURL: listURL,
		client:  &http.Client{Timeout: fetchTimeout},
		deny:    make(map[string]struct{}),
	}
}

// Refresh fetches the feed once and swaps in the new snapshot.
func (c *Checker) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.listURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build deny-list request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch deny-list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deny-list fetch returned status %d", resp.StatusCode)
	}

	var list denyList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("failed to decode deny-list: %w", err)
	}

	deny := make(map[string]struct{}, len(list.Deny))
	for _, host := range list.Deny {
		deny[strings.ToLower(host)] = struct{}{}
	}

	c.mu.Lock()
	c.deny = deny
	c.since = time.Now()
	c.mu.Unlock()

	slog.Info("phishing deny-list refreshed", "entries", len(deny))
	return nil
}

// Run refreshes immediately and then on every tick until ctx is cancelled.
// A failed refresh keeps the previous snapshot.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	if err := c.Refresh(ctx); err != nil {
		slog.Warn("initial phishing deny-list fetch failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				slog.Warn("phishing deny-list refresh failed", "error", err)
			}
		}
	}
}

// IsDenied reports whether the URL's host, or any parent domain of it, is on
// the deny-list. Unparseable URLs are treated as denied.
func (c *Checker) IsDenied(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	// evil.example.com matches a deny entry for example.com.
	for {
		if _, ok := c.deny[host]; ok {
			return true
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			return false
		}
		host = host[dot+1:]
	}
}

// Entries returns the size of the current snapshot.
func (c *Checker) Entries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.deny)
}

func hostOf(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
