package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletgate/walletgate/internal/authz"
	"github.com/walletgate/walletgate/internal/config"
	"github.com/walletgate/walletgate/internal/keyring"
	"github.com/walletgate/walletgate/internal/keyring/wrap"
	"github.com/walletgate/walletgate/internal/metrics"
	"github.com/walletgate/walletgate/internal/phishing"
	"github.com/walletgate/walletgate/internal/session"
	"github.com/walletgate/walletgate/internal/storage"
	apperrors "github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/protocol"
	"github.com/walletgate/walletgate/pkg/types"
)

const (
	testUIToken  = "test-ui-token"
	testWrapHex  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testMnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"
	testOrigin   = "https://dapp.example"
)

type memAccountStore struct {
	mu   sync.Mutex
	rows map[string]*storage.AccountRow
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{rows: make(map[string]*storage.AccountRow)}
}

func (m *memAccountStore) Save(_ context.Context, row *storage.AccountRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *row
	m.rows[row.Address] = &clone
	return nil
}

func (m *memAccountStore) UpdateMeta(_ context.Context, address string, meta types.AccountMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[address]
	if !ok {
		return apperrors.ErrNotFound
	}
	row.Meta = meta
	return nil
}

func (m *memAccountStore) Delete(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, address)
	return nil
}

func (m *memAccountStore) List(_ context.Context) ([]*storage.AccountRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]*storage.AccountRow, 0, len(m.rows))
	for _, row := range m.rows {
		clone := *row
		rows = append(rows, &clone)
	}
	return rows, nil
}

type memOriginStore struct {
	mu   sync.Mutex
	recs map[string]*types.OriginAuthorization
}

func newMemOriginStore() *memOriginStore {
	return &memOriginStore{recs: make(map[string]*types.OriginAuthorization)}
}

func (m *memOriginStore) Get(_ context.Context, origin string) (*types.OriginAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[origin]
	if !ok {
		return nil, apperrors.ErrUnauthorized
	}
	clone := *rec
	return &clone, nil
}

func (m *memOriginStore) Upsert(_ context.Context, rec *types.OriginAuthorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *rec
	m.recs[rec.Origin] = &clone
	return nil
}

func (m *memOriginStore) Delete(_ context.Context, origin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, origin)
	return nil
}

func (m *memOriginStore) List(_ context.Context) (map[string]*types.OriginAuthorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*types.OriginAuthorization, len(m.recs))
	for origin, rec := range m.recs {
		clone := *rec
		out[origin] = &clone
	}
	return out, nil
}

func (m *memOriginStore) RemoveAddress(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		kept := rec.AuthorizedAccounts[:0]
		for _, addr := range rec.AuthorizedAccounts {
			if addr != address {
				kept = append(kept, addr)
			}
		}
		rec.AuthorizedAccounts = kept
	}
	return nil
}

func (m *memOriginStore) TouchAuthorizedDate(_ context.Context, origin string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[origin]
	if !ok {
		return apperrors.ErrUnauthorized
	}
	rec.AuthorizedAt = at.UnixMilli()
	return nil
}

type memMetadataStore struct {
	mu   sync.Mutex
	defs map[string]*types.MetadataDef
}

func newMemMetadataStore() *memMetadataStore {
	return &memMetadataStore{defs: make(map[string]*types.MetadataDef)}
}

func (m *memMetadataStore) Save(_ context.Context, def *types.MetadataDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *def
	m.defs[def.GenesisHash] = &clone
	return nil
}

func (m *memMetadataStore) Get(_ context.Context, genesisHash string) (*types.MetadataDef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[genesisHash]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *def
	return &clone, nil
}

func (m *memMetadataStore) List(_ context.Context) ([]*types.MetadataDef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*types.MetadataDef, 0, len(m.defs))
	for _, def := range m.defs {
		clone := *def
		list = append(list, &clone)
	}
	return list, nil
}

type memSettingsStore struct {
	mu          sync.Mutex
	defaultAuth []string
	activeTabs  []string
}

func (m *memSettingsStore) GetDefaultAuthAccounts(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.defaultAuth...), nil
}

func (m *memSettingsStore) SetDefaultAuthAccounts(_ context.Context, accounts []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultAuth = append([]string{}, accounts...)
	return nil
}

func (m *memSettingsStore) GetActiveTabsURLs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.activeTabs...), nil
}

func (m *memSettingsStore) SetActiveTabsURLs(_ context.Context, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeTabs = append([]string{}, urls...)
	return nil
}

// wsFrame is the decoded union of everything the server sends: responses,
// subscription pushes and event broadcasts.
type wsFrame struct {
	ID           string          `json:"id"`
	Response     json.RawMessage `json:"response"`
	Error        string          `json:"error"`
	Code         string          `json:"code"`
	Subscription json.RawMessage `json:"subscription"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload"`
}

type harness struct {
	srv      *Server
	ts       *httptest.Server
	checker  *phishing.Checker
	accounts *memAccountStore
	origins  *memOriginStore
	settings *memSettingsStore
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	cfg := &config.Config{
		UIToken:          testUIToken,
		PasswordCacheTTL: time.Minute,
	}
	if mutate != nil {
		mutate(cfg)
	}

	wrapper, err := wrap.NewLocalProvider(testWrapHex)
	require.NoError(t, err)

	accounts := newMemAccountStore()
	origins := newMemOriginStore()
	kr := keyring.New(accounts, wrapper)
	require.NoError(t, kr.Load(context.Background()))

	checker := phishing.New(cfg.PhishingListURL)
	settings := &memSettingsStore{}
	srv := New(cfg, session.New(cfg.PasswordCacheTTL), kr, authz.New(origins), checker,
		newMemMetadataStore(), settings, metrics.New())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{srv: srv, ts: ts, checker: checker, accounts: accounts, origins: origins, settings: settings}
}

func (h *harness) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(h.ts.URL, "http") + path
}

func (h *harness) dialUI(t *testing.T) *websocket.Conn {
	t.Helper()
	header := http.Header{"Authorization": []string{"Bearer " + testUIToken}}
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL("/ws/ui"), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) dialTab(t *testing.T, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{"Origin": []string{origin}}
	conn, _, err := websocket.DefaultDialer.Dial(h.wsURL("/ws/tab"), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id string, typ protocol.MessageType, payload any) {
	t.Helper()
	frame := map[string]any{"id": id, "type": typ}
	if payload != nil {
		frame["payload"] = payload
	}
	require.NoError(t, conn.WriteJSON(frame))
}

func readWS(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// await reads frames until one satisfies the predicate, tolerating interleaved
// subscription pushes and events.
func await(t *testing.T, conn *websocket.Conn, pred func(wsFrame) bool) wsFrame {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := readWS(t, conn)
		if pred(frame) {
			return frame
		}
	}
	t.Fatal("expected frame never arrived")
	return wsFrame{}
}

func awaitResponse(t *testing.T, conn *websocket.Conn, id string) wsFrame {
	t.Helper()
	return await(t, conn, func(f wsFrame) bool {
		return f.ID == id && (f.Response != nil || f.Error != "")
	})
}

func awaitPush(t *testing.T, conn *websocket.Conn, id string) wsFrame {
	t.Helper()
	return await(t, conn, func(f wsFrame) bool {
		return f.ID == id && f.Subscription != nil
	})
}

func TestChannelAuthentication(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("ui upgrade without token is rejected", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("/ws/ui"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ui upgrade with wrong token is rejected", func(t *testing.T) {
		header := http.Header{"Authorization": []string{"Bearer nope"}}
		_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("/ws/ui"), header)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("tab upgrade without origin is rejected", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(h.wsURL("/ws/tab"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("tab upgrade with origin succeeds", func(t *testing.T) {
		conn := h.dialTab(t, testOrigin)
		require.NotNil(t, conn)
	})
}

func TestNamespaceEnforcement(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("ui cannot send page messages", func(t *testing.T) {
		ui := h.dialUI(t)
		send(t, ui, "1", protocol.MsgTabAccountsList, nil)
		frame := awaitResponse(t, ui, "1")
		assert.Equal(t, apperrors.ErrCodeUnknownMessageType, frame.Code)
	})

	t.Run("tab cannot send trusted messages", func(t *testing.T) {
		tab := h.dialTab(t, testOrigin)
		send(t, tab, "1", protocol.MsgPing, nil)
		frame := awaitResponse(t, tab, "1")
		assert.Equal(t, apperrors.ErrCodeUnknownMessageType, frame.Code)
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		ui := h.dialUI(t)
		send(t, ui, "1", "pri(no.such.thing)", nil)
		frame := awaitResponse(t, ui, "1")
		assert.Equal(t, apperrors.ErrCodeUnknownMessageType, frame.Code)
	})
}

func TestTrustedBasics(t *testing.T) {
	h := newHarness(t, nil)
	ui := h.dialUI(t)

	t.Run("ping", func(t *testing.T) {
		send(t, ui, "ping-1", protocol.MsgPing, nil)
		frame := awaitResponse(t, ui, "ping-1")
		assert.Equal(t, "true", string(frame.Response))
	})

	t.Run("seed create and validate agree on the address", func(t *testing.T) {
		send(t, ui, "seed-1", protocol.MsgSeedCreate, map[string]any{"length": 12})
		frame := awaitResponse(t, ui, "seed-1")
		require.Empty(t, frame.Error)

		var created struct {
			Address string `json:"address"`
			Seed    string `json:"seed"`
		}
		require.NoError(t, json.Unmarshal(frame.Response, &created))
		assert.Len(t, strings.Fields(created.Seed), 12)
		assert.True(t, strings.HasPrefix(created.Address, "0x"))

		send(t, ui, "seed-2", protocol.MsgSeedValidate, map[string]any{"suri": created.Seed})
		frame = awaitResponse(t, ui, "seed-2")
		require.Empty(t, frame.Error)

		var validated struct {
			Address string `json:"address"`
			Suri    string `json:"suri"`
		}
		require.NoError(t, json.Unmarshal(frame.Response, &validated))
		assert.Equal(t, created.Address, validated.Address)
	})

	t.Run("missing payload is a bad request", func(t *testing.T) {
		send(t, ui, "seed-3", protocol.MsgSeedValidate, nil)
		frame := awaitResponse(t, ui, "seed-3")
		assert.Equal(t, apperrors.ErrCodeBadRequest, frame.Code)
	})
}

func TestUnauthorizedPageIsGated(t *testing.T) {
	h := newHarness(t, nil)
	tab := h.dialTab(t, testOrigin)

	send(t, tab, "1", protocol.MsgTabAccountsList, nil)
	frame := awaitResponse(t, tab, "1")
	assert.Equal(t, apperrors.ErrCodeUnauthorized, frame.Code)
	assert.Contains(t, frame.Error, "has not been enabled yet")
}

func TestAuthorizeAndSignFlow(t *testing.T) {
	h := newHarness(t, nil)
	ui := h.dialUI(t)
	tab := h.dialTab(t, testOrigin)

	address, err := keyring.InspectSuri(testMnemonic)
	require.NoError(t, err)

	// Create an account over the trusted channel.
	send(t, ui, "create-1", protocol.MsgAccountsCreateSuri, map[string]any{
		"suri":     testMnemonic,
		"password": "hunter2",
		"name":     "primary",
	})
	frame := awaitResponse(t, ui, "create-1")
	require.Empty(t, frame.Error)

	// Watch the authorization queue.
	send(t, ui, "auth-sub", protocol.MsgAuthorizeSubscribe, nil)
	frame = awaitResponse(t, ui, "auth-sub")
	assert.Equal(t, "true", string(frame.Response))

	// The page asks for authorization; the request parks until approval.
	send(t, tab, "auth-1", protocol.MsgTabAuthorize, map[string]any{"origin": testOrigin})

	push := awaitPush(t, ui, "auth-sub")
	var pendingAuth []struct {
		ID      string `json:"id"`
		Origin  string `json:"origin"`
		Request struct {
			Origin string `json:"origin"`
		} `json:"request"`
	}
	require.NoError(t, json.Unmarshal(push.Subscription, &pendingAuth))
	require.Len(t, pendingAuth, 1)
	assert.Equal(t, "auth-1", pendingAuth[0].ID)
	assert.Equal(t, "dapp.example", pendingAuth[0].Origin)

	send(t, ui, "approve-1", protocol.MsgAuthorizeApprove, map[string]any{
		"id":                 "auth-1",
		"authorizedAccounts": []string{address},
	})
	frame = awaitResponse(t, ui, "approve-1")
	require.Empty(t, frame.Error)

	// The parked page request settles with the grant.
	frame = awaitResponse(t, tab, "auth-1")
	require.Empty(t, frame.Error)
	var granted types.AuthorizeResponse
	require.NoError(t, json.Unmarshal(frame.Response, &granted))
	assert.True(t, granted.Result)
	assert.Equal(t, []string{address}, granted.AuthorizedAccounts)

	t.Run("approved selection becomes the prompt pre-selection", func(t *testing.T) {
		selected, err := h.settings.GetDefaultAuthAccounts(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{address}, selected)
	})

	t.Run("authorized page sees its accounts", func(t *testing.T) {
		send(t, tab, "list-1", protocol.MsgTabAccountsList, nil)
		frame := awaitResponse(t, tab, "list-1")
		require.Empty(t, frame.Error)

		var visible []types.InjectedAccount
		require.NoError(t, json.Unmarshal(frame.Response, &visible))
		require.Len(t, visible, 1)
		assert.Equal(t, address, visible[0].Address)
		assert.Equal(t, "primary", visible[0].Name)
	})

	t.Run("re-authorization answers from the existing grant", func(t *testing.T) {
		send(t, tab, "auth-2", protocol.MsgTabAuthorize, map[string]any{"origin": testOrigin})
		frame := awaitResponse(t, tab, "auth-2")
		require.Empty(t, frame.Error)

		var again types.AuthorizeResponse
		require.NoError(t, json.Unmarshal(frame.Response, &again))
		assert.True(t, again.Result)
	})

	t.Run("signing request settles after password approval", func(t *testing.T) {
		send(t, ui, "sign-sub", protocol.MsgSigningSubscribe, nil)
		frame := awaitResponse(t, ui, "sign-sub")
		assert.Equal(t, "true", string(frame.Response))

		send(t, tab, "sign-1", protocol.MsgTabBytesSign, map[string]any{
			"address": address,
			"data":    "0xdeadbeef",
		})

		push := awaitPush(t, ui, "sign-sub")
		var pendingSign []struct {
			ID      string `json:"id"`
			Request struct {
				Address string `json:"address"`
				Data    string `json:"data"`
			} `json:"request"`
		}
		require.NoError(t, json.Unmarshal(push.Subscription, &pendingSign))
		require.Len(t, pendingSign, 1)
		assert.Equal(t, "sign-1", pendingSign[0].ID)
		assert.Equal(t, address, pendingSign[0].Request.Address)

		send(t, ui, "approve-sign", protocol.MsgSigningApprovePassword, map[string]any{
			"id":       "sign-1",
			"password": "hunter2",
		})
		frame = awaitResponse(t, ui, "approve-sign")
		require.Empty(t, frame.Error)

		frame = awaitResponse(t, tab, "sign-1")
		require.Empty(t, frame.Error)
		var result types.SignatureResult
		require.NoError(t, json.Unmarshal(frame.Response, &result))
		assert.Equal(t, "sign-1", result.ID)
		assert.True(t, strings.HasPrefix(result.Signature, "0x"))
		assert.Len(t, result.Signature, 132)
	})

	t.Run("signing for an unauthorized address is refused", func(t *testing.T) {
		send(t, ui, "seed-x", protocol.MsgSeedCreate, map[string]any{"length": 12})
		frame := awaitResponse(t, ui, "seed-x")
		require.Empty(t, frame.Error)
		var created struct {
			Seed string `json:"seed"`
		}
		require.NoError(t, json.Unmarshal(frame.Response, &created))

		send(t, ui, "create-x", protocol.MsgAccountsCreateSuri, map[string]any{
			"suri":     created.Seed,
			"password": "hunter2",
			"name":     "other",
		})
		frame = awaitResponse(t, ui, "create-x")
		require.Empty(t, frame.Error)

		other, err := keyring.InspectSuri(created.Seed)
		require.NoError(t, err)

		send(t, tab, "sign-2", protocol.MsgTabBytesSign, map[string]any{
			"address": other,
			"data":    "0x00",
		})
		frame = awaitResponse(t, tab, "sign-2")
		assert.Equal(t, apperrors.ErrCodeUnauthorized, frame.Code)
	})

	t.Run("cancelled signing request reports cancellation", func(t *testing.T) {
		send(t, tab, "sign-3", protocol.MsgTabBytesSign, map[string]any{
			"address": address,
			"data":    "0x01",
		})

		push := awaitPush(t, ui, "sign-sub")
		var pendingSign []struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(push.Subscription, &pendingSign))
		require.Len(t, pendingSign, 1)

		send(t, ui, "cancel-1", protocol.MsgSigningCancel, map[string]any{"id": "sign-3"})
		frame := awaitResponse(t, ui, "cancel-1")
		require.Empty(t, frame.Error)

		frame = awaitResponse(t, tab, "sign-3")
		assert.Equal(t, apperrors.ErrCodeCancelled, frame.Code)
	})
}

func TestMetadataFlow(t *testing.T) {
	h := newHarness(t, nil)
	ui := h.dialUI(t)
	tab := h.dialTab(t, testOrigin)

	// Metadata provision still needs an authorized origin.
	send(t, ui, "meta-sub", protocol.MsgMetadataSubscribe, nil)
	awaitResponse(t, ui, "meta-sub")

	send(t, ui, "auth-sub", protocol.MsgAuthorizeSubscribe, nil)
	awaitResponse(t, ui, "auth-sub")
	send(t, tab, "auth-1", protocol.MsgTabAuthorize, map[string]any{"origin": testOrigin})
	awaitPush(t, ui, "auth-sub")
	send(t, ui, "approve-1", protocol.MsgAuthorizeApprove, map[string]any{
		"id":                 "auth-1",
		"authorizedAccounts": []string{},
	})
	awaitResponse(t, tab, "auth-1")

	send(t, tab, "meta-1", protocol.MsgTabMetadataProvide, map[string]any{
		"genesisHash": "0xabc",
		"chain":       "Example",
		"specVersion": 42,
	})

	push := awaitPush(t, ui, "meta-sub")
	var pendingMeta []struct {
		ID      string            `json:"id"`
		Request types.MetadataDef `json:"request"`
	}
	require.NoError(t, json.Unmarshal(push.Subscription, &pendingMeta))
	require.Len(t, pendingMeta, 1)
	assert.Equal(t, "0xabc", pendingMeta[0].Request.GenesisHash)

	send(t, ui, "approve-meta", protocol.MsgMetadataApprove, map[string]any{"id": "meta-1"})
	frame := awaitResponse(t, ui, "approve-meta")
	require.Empty(t, frame.Error)

	frame = awaitResponse(t, tab, "meta-1")
	require.Empty(t, frame.Error)
	assert.Equal(t, "true", string(frame.Response))

	t.Run("approved chain appears in the page listing", func(t *testing.T) {
		send(t, tab, "list-1", protocol.MsgTabMetadataList, nil)
		frame := awaitResponse(t, tab, "list-1")
		require.Empty(t, frame.Error)

		var known []types.MetadataKnown
		require.NoError(t, json.Unmarshal(frame.Response, &known))
		require.Len(t, known, 1)
		assert.Equal(t, "0xabc", known[0].GenesisHash)
		assert.Equal(t, uint32(42), known[0].SpecVersion)
	})
}

func TestConnectedTabsURL(t *testing.T) {
	h := newHarness(t, nil)
	ui := h.dialUI(t)
	h.dialTab(t, testOrigin)

	send(t, ui, "tabs-1", protocol.MsgActiveTabsURLUpdate, map[string]any{
		"urls": []string{testOrigin + "/app", "https://elsewhere.example/page"},
	})
	frame := awaitResponse(t, ui, "tabs-1")
	require.Empty(t, frame.Error)

	// Only active URLs whose origin holds a live connection are reported.
	send(t, ui, "tabs-2", protocol.MsgConnectedTabsURLGet, nil)
	frame = awaitResponse(t, ui, "tabs-2")
	require.Empty(t, frame.Error)

	var urls []string
	require.NoError(t, json.Unmarshal(frame.Response, &urls))
	assert.Equal(t, []string{testOrigin + "/app"}, urls)
}

func TestRejectedAuthorization(t *testing.T) {
	h := newHarness(t, nil)
	ui := h.dialUI(t)
	tab := h.dialTab(t, testOrigin)

	send(t, ui, "auth-sub", protocol.MsgAuthorizeSubscribe, nil)
	awaitResponse(t, ui, "auth-sub")

	send(t, tab, "auth-1", protocol.MsgTabAuthorize, map[string]any{"origin": testOrigin})
	awaitPush(t, ui, "auth-sub")

	send(t, ui, "reject-1", protocol.MsgAuthorizeReject, map[string]any{"id": "auth-1"})
	frame := awaitResponse(t, ui, "reject-1")
	require.Empty(t, frame.Error)

	frame = awaitResponse(t, tab, "auth-1")
	require.NotEmpty(t, frame.Error)
	assert.Equal(t, apperrors.ErrCodeCancelled, frame.Code)

	// No grant was written; the page stays gated.
	send(t, tab, "list-1", protocol.MsgTabAccountsList, nil)
	frame = awaitResponse(t, tab, "list-1")
	assert.Equal(t, apperrors.ErrCodeUnauthorized, frame.Code)
}

func TestPhishingRedirect(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"allow":[],"deny":["evil.example"]}`)
	}))
	defer feed.Close()

	h := newHarness(t, func(cfg *config.Config) {
		cfg.PhishingListURL = feed.URL
	})
	require.NoError(t, h.checker.Refresh(context.Background()))

	ui := h.dialUI(t)
	tab := h.dialTab(t, testOrigin)

	t.Run("clean url passes", func(t *testing.T) {
		send(t, tab, "ph-1", protocol.MsgTabPhishingRedirect, map[string]any{"url": "https://fine.example"})
		frame := awaitResponse(t, tab, "ph-1")
		require.Empty(t, frame.Error)
		assert.Equal(t, "false", string(frame.Response))
	})

	t.Run("denied url reports true and alerts the ui", func(t *testing.T) {
		send(t, tab, "ph-2", protocol.MsgTabPhishingRedirect, map[string]any{"url": "https://evil.example/login"})
		frame := awaitResponse(t, tab, "ph-2")
		require.Empty(t, frame.Error)
		assert.Equal(t, "true", string(frame.Response))

		event := await(t, ui, func(f wsFrame) bool { return f.Event == protocol.EventPhishingRedirect })
		var alert struct {
			URL string `json:"url"`
			Tab string `json:"tab"`
		}
		require.NoError(t, json.Unmarshal(event.Payload, &alert))
		assert.Equal(t, "https://evil.example/login", alert.URL)
		assert.NotEmpty(t, alert.Tab)
	})
}

func TestTabRateLimit(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.TabRateRPM = 60
		cfg.TabRateBurst = 2
	})
	tab := h.dialTab(t, testOrigin)

	codes := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("ph-%d", i)
		send(t, tab, id, protocol.MsgTabPhishingRedirect, map[string]any{"url": "https://fine.example"})
		codes = append(codes, awaitResponse(t, tab, id).Code)
	}

	assert.Equal(t, "", codes[0])
	assert.Equal(t, "", codes[1])
	assert.Equal(t, apperrors.ErrCodeRateLimited, codes[2])
}

func TestDuplicateFrameIDsAcrossTabs(t *testing.T) {
	h := newHarness(t, nil)
	ui := h.dialUI(t)
	tabA := h.dialTab(t, testOrigin)
	tabB := h.dialTab(t, "https://other.example")

	send(t, ui, "auth-sub", protocol.MsgAuthorizeSubscribe, nil)
	awaitResponse(t, ui, "auth-sub")

	// Both tabs start their frame counters at "1".
	send(t, tabA, "1", protocol.MsgTabAuthorize, map[string]any{"origin": testOrigin})
	push := await(t, ui, func(f wsFrame) bool {
		return f.ID == "auth-sub" && f.Subscription != nil && string(f.Subscription) != "[]"
	})
	var pending []struct {
		ID     string `json:"id"`
		Origin string `json:"origin"`
	}
	require.NoError(t, json.Unmarshal(push.Subscription, &pending))
	require.Len(t, pending, 1)
	firstID := pending[0].ID

	send(t, tabB, "1", protocol.MsgTabAuthorize, map[string]any{"origin": "https://other.example"})
	push = await(t, ui, func(f wsFrame) bool {
		if f.ID != "auth-sub" || f.Subscription == nil {
			return false
		}
		var list []json.RawMessage
		return json.Unmarshal(f.Subscription, &list) == nil && len(list) == 2
	})
	require.NoError(t, json.Unmarshal(push.Subscription, &pending))
	require.Len(t, pending, 2)
	assert.NotEqual(t, pending[0].ID, pending[1].ID)
	assert.Equal(t, "dapp.example", pending[0].Origin)
	assert.Equal(t, "other.example", pending[1].Origin)

	// Each pending entry settles its own tab's frame.
	send(t, ui, "approve-a", protocol.MsgAuthorizeApprove, map[string]any{
		"id":                 firstID,
		"authorizedAccounts": []string{},
	})
	frame := awaitResponse(t, tabA, "1")
	require.Empty(t, frame.Error)

	send(t, ui, "reject-b", protocol.MsgAuthorizeReject, map[string]any{"id": pending[1].ID})
	frame = awaitResponse(t, tabB, "1")
	assert.Equal(t, apperrors.ErrCodeCancelled, frame.Code)
}

func TestShutdownWithPendingRequests(t *testing.T) {
	h := newHarness(t, nil)
	tab := h.dialTab(t, testOrigin)

	send(t, tab, "auth-1", protocol.MsgTabAuthorize, map[string]any{"origin": testOrigin})

	// Give the frame time to park in the registry.
	require.Eventually(t, func() bool {
		return h.srv.session.Auth.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Shutdown rejects the parked request; its settle goroutine must not be
	// able to crash the process by writing to a torn-down client.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Shutdown(ctx))

	require.Eventually(t, func() bool {
		return h.srv.session.Auth.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMarkDefaultAuthSelection(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.settings.SetDefaultAuthAccounts(context.Background(), []string{"0xaaa"}))

	accounts := []types.AccountInfo{{Address: "0xaaa"}, {Address: "0xbbb"}}
	flagged := h.srv.markDefaultAuthSelection(accounts)

	require.Len(t, flagged, 2)
	assert.True(t, flagged[0].IsDefaultAuthSelected)
	assert.False(t, flagged[1].IsDefaultAuthSelected)

	t.Run("shared snapshot stays unflagged", func(t *testing.T) {
		assert.False(t, accounts[0].IsDefaultAuthSelected)
		assert.False(t, accounts[1].IsDefaultAuthSelected)
	})
}

func TestTabDisconnectCancelsPending(t *testing.T) {
	h := newHarness(t, nil)
	ui := h.dialUI(t)
	tab := h.dialTab(t, testOrigin)

	send(t, ui, "auth-sub", protocol.MsgAuthorizeSubscribe, nil)
	awaitResponse(t, ui, "auth-sub")

	send(t, tab, "auth-1", protocol.MsgTabAuthorize, map[string]any{"origin": testOrigin})
	awaitPush(t, ui, "auth-sub")

	tab.Close()

	// The disconnect drains the tab's pending requests; the queue empties.
	push := await(t, ui, func(f wsFrame) bool {
		return f.ID == "auth-sub" && string(f.Subscription) == "[]"
	})
	assert.NotNil(t, push.Subscription)
}
