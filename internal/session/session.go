package session

import (
	"sync"
	"time"

	"github.com/walletgate/walletgate/pkg/types"
)

// Session aggregates all process-wide session state. It is constructed once
// at startup and passed by handle into the router and handlers; there is no
// module-level state.
type Session struct {
	// Pending-request registries. Each owns its own id space and
	// subscriber set; they share only the broadcast mechanism shape.
	Auth *Registry[types.AuthorizePayload, types.AuthorizeResponse]
	Sign *Registry[types.SignerPayload, types.SignatureResult]
	Meta *Registry[types.MetadataDef, bool]

	// Unlock holds the password-unlock cache.
	Unlock *UnlockCache

	mu   sync.Mutex
	tabs map[string]string // tab id -> page URL
}

// New creates an empty session with the given unlock window.
func New(unlockTTL time.Duration) *Session {
	return &Session{
		Auth:   NewRegistry[types.AuthorizePayload, types.AuthorizeResponse](),
		Sign:   NewRegistry[types.SignerPayload, types.SignatureResult](),
		Meta:   NewRegistry[types.MetadataDef, bool](),
		Unlock: NewUnlockCache(unlockTTL),
		tabs:   make(map[string]string),
	}
}

// AddTab records a connected page tab.
func (s *Session) AddTab(tabID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[tabID] = url
}

// RemoveTab forgets a tab and rejects every pending request it owned across
// all registries. Closing the tab is the sole cancellation signal for
// page-originated requests.
func (s *Session) RemoveTab(tabID string) {
	s.mu.Lock()
	delete(s.tabs, tabID)
	s.mu.Unlock()

	s.Auth.DeleteByTab(tabID)
	s.Sign.DeleteByTab(tabID)
	s.Meta.DeleteByTab(tabID)
}

// ConnectedTabURLs returns the URLs of all connected tabs.
func (s *Session) ConnectedTabURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := make([]string, 0, len(s.tabs))
	for _, url := range s.tabs {
		urls = append(urls, url)
	}
	return urls
}

// TabCount returns the number of connected tabs.
func (s *Session) TabCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tabs)
}
