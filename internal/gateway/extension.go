package gateway

import (
	"context"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/walletgate/walletgate/internal/keyring"
	"github.com/walletgate/walletgate/internal/session"
	apperrors "github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/protocol"
	"github.com/walletgate/walletgate/pkg/types"
)

// Trusted channel handlers. Each implements one "pri(...)" operation; payload
// shapes are the operation's own little contract with the UI.

func (s *Server) accountsCreateSuri(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Suri        string `json:"suri"`
		Password    string `json:"password"`
		Name        string `json:"name"`
		GenesisHash string `json:"genesisHash"`
	}](req)
	if err != nil {
		return nil, err
	}

	_, err = s.keyring.CreateFromSuri(ctx, payload.Suri, payload.Password, types.AccountMeta{
		Name:        payload.Name,
		GenesisHash: payload.GenesisHash,
	})
	if err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) accountsCreateHardware(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Address      string `json:"address"`
		HardwareType string `json:"hardwareType"`
		Name         string `json:"name"`
		GenesisHash  string `json:"genesisHash"`
	}](req)
	if err != nil {
		return nil, err
	}
	if payload.Address == "" {
		return nil, apperrors.BadRequest("hardware account needs an address")
	}

	err = s.keyring.AddHardware(ctx, payload.Address, payload.HardwareType, types.AccountMeta{
		Name:        payload.Name,
		GenesisHash: payload.GenesisHash,
	})
	if err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) accountsChangePassword(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Address string `json:"address"`
		OldPass string `json:"oldPass"`
		NewPass string `json:"newPass"`
	}](req)
	if err != nil {
		return nil, err
	}

	if err := s.keyring.ChangePassword(ctx, payload.Address, payload.OldPass, payload.NewPass); err != nil {
		return nil, err
	}

	// The old password may still be cached; a password change always re-locks.
	s.session.Unlock.Forget(payload.Address)
	return true, nil
}

func (s *Server) accountsEdit(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	}](req)
	if err != nil {
		return nil, err
	}

	pair, err := s.keyring.GetPair(payload.Address)
	if err != nil {
		return nil, err
	}

	meta := pair.Meta
	meta.Name = payload.Name
	if err := s.keyring.SaveAccountMeta(ctx, payload.Address, meta); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) accountsExport(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Address  string `json:"address"`
		Password string `json:"password"`
	}](req)
	if err != nil {
		return nil, err
	}

	exported, err := s.keyring.ExportAccount(payload.Address, payload.Password)
	if err != nil {
		return nil, err
	}
	return map[string]any{"exportedJson": exported}, nil
}

func (s *Server) accountsForget(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Address string `json:"address"`
	}](req)
	if err != nil {
		return nil, err
	}

	if err := s.keyring.ForgetAccount(ctx, payload.Address); err != nil {
		return nil, err
	}

	// A forgotten account must vanish from every grant that named it and from
	// the stored prompt pre-selection.
	if err := s.authz.ForgetAddress(ctx, payload.Address); err != nil {
		return nil, err
	}

	selected, err := s.settings.GetDefaultAuthAccounts(ctx)
	if err != nil {
		return nil, err
	}
	kept := selected[:0]
	for _, addr := range selected {
		if addr != payload.Address {
			kept = append(kept, addr)
		}
	}
	if len(kept) != len(selected) {
		if err := s.settings.SetDefaultAuthAccounts(ctx, kept); err != nil {
			return nil, err
		}
	}

	s.session.Unlock.Forget(payload.Address)
	return true, nil
}

func (s *Server) accountsShow(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Address   string `json:"address"`
		IsShowing bool   `json:"isShowing"`
	}](req)
	if err != nil {
		return nil, err
	}

	pair, err := s.keyring.GetPair(payload.Address)
	if err != nil {
		return nil, err
	}

	meta := pair.Meta
	meta.IsHidden = !payload.IsShowing
	if err := s.keyring.SaveAccountMeta(ctx, payload.Address, meta); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) accountsTie(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Address     string `json:"address"`
		GenesisHash string `json:"genesisHash"`
	}](req)
	if err != nil {
		return nil, err
	}

	pair, err := s.keyring.GetPair(payload.Address)
	if err != nil {
		return nil, err
	}

	meta := pair.Meta
	meta.GenesisHash = payload.GenesisHash
	if err := s.keyring.SaveAccountMeta(ctx, payload.Address, meta); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) accountsValidate(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Address  string `json:"address"`
		Password string `json:"password"`
	}](req)
	if err != nil {
		return nil, err
	}
	return s.keyring.ValidateAccount(payload.Address, payload.Password), nil
}

func (s *Server) accountsSubscribe(c *Client, req *protocol.RequestFrame) (any, error) {
	// Respond before attaching; the feed delivers the current list
	// synchronously and the push must not precede the acknowledgement.
	c.SendResponse(protocol.NewResponse(req.ID, true))

	id := req.ID
	c.addSubscription(id, s.keyring.SubscribeAccounts(func(accounts []types.AccountInfo) {
		c.SendResponse(protocol.NewSubscriptionPush(id, s.markDefaultAuthSelection(accounts)))
	}))
	return deferred, nil
}

// markDefaultAuthSelection flags the accounts pre-selected for the next
// authorization prompt. A failed settings read leaves the list unflagged.
// The snapshot slice is shared with every other feed subscriber, so the
// flags go on a copy.
func (s *Server) markDefaultAuthSelection(accounts []types.AccountInfo) []types.AccountInfo {
	selected, err := s.settings.GetDefaultAuthAccounts(context.Background())
	if err != nil || len(selected) == 0 {
		return accounts
	}

	set := make(map[string]struct{}, len(selected))
	for _, addr := range selected {
		set[addr] = struct{}{}
	}

	flagged := make([]types.AccountInfo, len(accounts))
	copy(flagged, accounts)
	for i := range flagged {
		_, flagged[i].IsDefaultAuthSelected = set[flagged[i].Address]
	}
	return flagged
}

func (s *Server) seedCreate(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Length int `json:"length"`
	}](req)
	if err != nil {
		return nil, err
	}

	seed, err := keyring.GenerateMnemonic(payload.Length)
	if err != nil {
		return nil, err
	}

	address, err := keyring.InspectSuri(seed)
	if err != nil {
		return nil, err
	}
	return map[string]string{"address": address, "seed": seed}, nil
}

func (s *Server) seedValidate(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Suri string `json:"suri"`
	}](req)
	if err != nil {
		return nil, err
	}

	address, err := keyring.InspectSuri(payload.Suri)
	if err != nil {
		return nil, err
	}
	return map[string]string{"address": address, "suri": payload.Suri}, nil
}

func (s *Server) derivationCreate(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ParentAddress  string `json:"parentAddress"`
		Suri           string `json:"suri"`
		ParentPassword string `json:"parentPassword"`
		Name           string `json:"name"`
		Password       string `json:"password"`
		GenesisHash    string `json:"genesisHash"`
	}](req)
	if err != nil {
		return nil, err
	}

	_, err = s.keyring.DeriveFromParent(ctx,
		payload.ParentAddress, payload.Suri, payload.ParentPassword, payload.Password,
		types.AccountMeta{
			Name:        payload.Name,
			GenesisHash: payload.GenesisHash,
		})
	if err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) derivationValidate(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ParentAddress  string `json:"parentAddress"`
		Suri           string `json:"suri"`
		ParentPassword string `json:"parentPassword"`
	}](req)
	if err != nil {
		return nil, err
	}

	address, err := s.keyring.ValidateDerivation(payload.ParentAddress, payload.Suri, payload.ParentPassword)
	if err != nil {
		return nil, err
	}
	return map[string]string{"address": address, "suri": payload.Suri}, nil
}

func (s *Server) jsonRestore(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		File               types.KeystoreJSON `json:"file"`
		Password           string             `json:"password"`
		SkipIntegrityCheck bool               `json:"skipAuthenticityCheck"`
	}](req)
	if err != nil {
		return nil, err
	}

	if err := s.keyring.RestoreAccount(ctx, &payload.File, payload.Password, payload.SkipIntegrityCheck); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) jsonBatchRestore(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		File               types.KeystoreBatchJSON `json:"file"`
		Password           string                  `json:"password"`
		SkipIntegrityCheck bool                    `json:"skipAuthenticityCheck"`
	}](req)
	if err != nil {
		return nil, err
	}

	if err := s.keyring.RestoreBatch(ctx, &payload.File, payload.Password, payload.SkipIntegrityCheck); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) jsonAccountInfo(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[types.KeystoreJSON](req)
	if err != nil {
		return nil, err
	}
	return s.keyring.AccountInfoFromJSON(&payload)
}

func (s *Server) authorizeApprove(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ID                 string   `json:"id"`
		AuthorizedAccounts []string `json:"authorizedAccounts"`
	}](req)
	if err != nil {
		return nil, err
	}

	pending, ok := s.session.Auth.Get(payload.ID)
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	// Persist the grant before settling; a crash in between leaves the page
	// waiting, never authorized without a record.
	if err := s.authz.Grant(ctx, pending.Origin, pending.URL, payload.AuthorizedAccounts); err != nil {
		return nil, err
	}

	// The approved selection becomes the pre-selection for the next prompt.
	if err := s.settings.SetDefaultAuthAccounts(ctx, payload.AuthorizedAccounts); err != nil {
		return nil, err
	}

	err = s.session.Auth.Resolve(payload.ID, types.AuthorizeResponse{
		Result:             true,
		AuthorizedAccounts: payload.AuthorizedAccounts,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SettledTotal.WithLabelValues("authorize", "approved").Inc()
	return true, nil
}

func (s *Server) authorizeReject(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ID string `json:"id"`
	}](req)
	if err != nil {
		return nil, err
	}

	if err := s.session.Auth.Reject(payload.ID, apperrors.ErrRejected); err != nil {
		return nil, err
	}

	s.metrics.SettledTotal.WithLabelValues("authorize", "rejected").Inc()
	return true, nil
}

func (s *Server) authorizeList(ctx context.Context) (any, error) {
	list, err := s.authz.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"list": list}, nil
}

func (s *Server) authorizeRemove(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Origin string `json:"origin"`
	}](req)
	if err != nil {
		return nil, err
	}

	if err := s.authz.Revoke(ctx, payload.Origin); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) authorizeUpdate(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Origin             string   `json:"origin"`
		AuthorizedAccounts []string `json:"authorizedAccounts"`
	}](req)
	if err != nil {
		return nil, err
	}

	if err := s.authz.UpdateAccounts(ctx, payload.Origin, payload.AuthorizedAccounts); err != nil {
		return nil, err
	}
	return true, nil
}

func (s *Server) authorizeDeleteRequest(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ID string `json:"id"`
	}](req)
	if err != nil {
		return nil, err
	}

	if err := s.session.Auth.Reject(payload.ID, apperrors.ErrCancelled); err != nil {
		return nil, err
	}

	s.metrics.SettledTotal.WithLabelValues("authorize", "cancelled").Inc()
	return true, nil
}

func (s *Server) authorizeSubscribe(c *Client, req *protocol.RequestFrame) (any, error) {
	c.SendResponse(protocol.NewResponse(req.ID, true))

	id := req.ID
	c.addSubscription(id, s.session.Auth.Subscribe(func(list []session.Pending[types.AuthorizePayload]) {
		c.SendResponse(protocol.NewSubscriptionPush(id, list))
	}))
	return deferred, nil
}

func (s *Server) metadataApprove(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ID string `json:"id"`
	}](req)
	if err != nil {
		return nil, err
	}

	pending, ok := s.session.Meta.Get(payload.ID)
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	if err := s.metaRepo.Save(ctx, &pending.Payload); err != nil {
		return nil, err
	}

	if err := s.session.Meta.Resolve(payload.ID, true); err != nil {
		return nil, err
	}

	s.metrics.SettledTotal.WithLabelValues("metadata", "approved").Inc()
	return true, nil
}

func (s *Server) metadataReject(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ID string `json:"id"`
	}](req)
	if err != nil {
		return nil, err
	}

	if err := s.session.Meta.Reject(payload.ID, apperrors.ErrRejected); err != nil {
		return nil, err
	}

	s.metrics.SettledTotal.WithLabelValues("metadata", "rejected").Inc()
	return true, nil
}

func (s *Server) metadataListTrusted(ctx context.Context) (any, error) {
	return s.metaRepo.List(ctx)
}

func (s *Server) metadataGet(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		GenesisHash string `json:"genesisHash"`
	}](req)
	if err != nil {
		return nil, err
	}
	return s.metaRepo.Get(ctx, payload.GenesisHash)
}

func (s *Server) metadataSubscribe(c *Client, req *protocol.RequestFrame) (any, error) {
	c.SendResponse(protocol.NewResponse(req.ID, true))

	id := req.ID
	c.addSubscription(id, s.session.Meta.Subscribe(func(list []session.Pending[types.MetadataDef]) {
		c.SendResponse(protocol.NewSubscriptionPush(id, list))
	}))
	return deferred, nil
}

func (s *Server) signingApprovePassword(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ID       string `json:"id"`
		Password string `json:"password"`
		SavePass bool   `json:"savePass"`
	}](req)
	if err != nil {
		return nil, err
	}

	pending, ok := s.session.Sign.Get(payload.ID)
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	pair, err := s.keyring.GetPair(pending.Payload.Address)
	if err != nil {
		return nil, err
	}

	// An expired cache entry locks the pair here, before any signing.
	remaining := s.session.Unlock.RemainingTime(pair.Address, pair)

	if payload.Password != "" {
		if err := pair.Unlock(payload.Password); err != nil {
			return nil, err
		}
	}

	data, err := decodeHex(pending.Payload.Data)
	if err != nil {
		return nil, apperrors.BadRequest("signing payload is not valid hex")
	}

	signature, err := pair.Sign(data)
	if err != nil {
		return nil, err
	}

	if payload.SavePass {
		s.session.Unlock.Extend(pair.Address)
	} else if remaining <= 0 {
		pair.Lock()
	}

	err = s.session.Sign.Resolve(payload.ID, types.SignatureResult{
		ID:        payload.ID,
		Signature: signature,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SettledTotal.WithLabelValues("signing", "approved").Inc()
	return true, nil
}

func (s *Server) signingApproveSignature(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ID        string `json:"id"`
		Signature string `json:"signature"`
	}](req)
	if err != nil {
		return nil, err
	}

	err = s.session.Sign.Resolve(payload.ID, types.SignatureResult{
		ID:        payload.ID,
		Signature: payload.Signature,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SettledTotal.WithLabelValues("signing", "approved").Inc()
	return true, nil
}

func (s *Server) signingCancel(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ID string `json:"id"`
	}](req)
	if err != nil {
		return nil, err
	}

	if err := s.session.Sign.Reject(payload.ID, apperrors.ErrCancelled); err != nil {
		return nil, err
	}

	s.metrics.SettledTotal.WithLabelValues("signing", "cancelled").Inc()
	return true, nil
}

func (s *Server) signingIsLocked(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ID string `json:"id"`
	}](req)
	if err != nil {
		return nil, err
	}

	pending, ok := s.session.Sign.Get(payload.ID)
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	pair, err := s.keyring.GetPair(pending.Payload.Address)
	if err != nil {
		return nil, err
	}

	remaining := s.session.Unlock.RemainingTime(pair.Address, pair)
	return map[string]any{
		"isLocked":      pair.IsLocked(),
		"remainingTime": remaining.Milliseconds(),
	}, nil
}

func (s *Server) signingSubscribe(c *Client, req *protocol.RequestFrame) (any, error) {
	c.SendResponse(protocol.NewResponse(req.ID, true))

	id := req.ID
	c.addSubscription(id, s.session.Sign.Subscribe(func(list []session.Pending[types.SignerPayload]) {
		c.SendResponse(protocol.NewSubscriptionPush(id, list))
	}))
	return deferred, nil
}

func (s *Server) windowOpen(req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		Path string `json:"path"`
	}](req)
	if err != nil {
		return nil, err
	}

	s.broadcastToUI(protocol.EventWindowOpen, map[string]string{"path": payload.Path})
	return true, nil
}

func (s *Server) activeTabsURLUpdate(ctx context.Context, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		URLs []string `json:"urls"`
	}](req)
	if err != nil {
		return nil, err
	}

	// Each active-tab ping also refreshes the grant timestamps of the origins
	// still in use, so stale grants can be spotted in the UI.
	if err := s.settings.SetActiveTabsURLs(ctx, payload.URLs); err != nil {
		return nil, err
	}
	for _, rawURL := range payload.URLs {
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Host == "" {
			continue
		}
		if err := s.authz.TouchAuthorizedDate(ctx, parsed.Host); err != nil {
			if apperrors.CodeOf(err) == apperrors.ErrCodeUnauthorized {
				continue
			}
			return nil, err
		}
	}
	return true, nil
}

// connectedTabsURL is the intersection of the browser shell's active tab URLs
// with the origins that actually hold a live page connection.
func (s *Server) connectedTabsURL(ctx context.Context) (any, error) {
	active, err := s.settings.GetActiveTabsURLs(ctx)
	if err != nil {
		return nil, err
	}

	connected := make(map[string]struct{})
	for _, origin := range s.session.ConnectedTabURLs() {
		connected[origin] = struct{}{}
	}

	urls := make([]string, 0, len(active))
	for _, rawURL := range active {
		parsed, err := url.Parse(rawURL)
		if err != nil || parsed.Host == "" {
			continue
		}
		if _, ok := connected[parsed.Scheme+"://"+parsed.Host]; ok {
			urls = append(urls, rawURL)
		}
	}
	return urls, nil
}

// decodeHex accepts hex payloads with or without the 0x prefix.
func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
