package gateway

import (
	"context"

	"github.com/walletgate/walletgate/internal/authz"
	"github.com/walletgate/walletgate/internal/session"
	apperrors "github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/protocol"
	"github.com/walletgate/walletgate/pkg/types"
)

// Page channel handlers. Identity (origin, tab id) always comes from the
// connection; payload-supplied origins are ignored.

// tabAuthorize either answers from an existing grant or parks the request
// until the user decides. The response is deferred while pending.
func (s *Server) tabAuthorize(ctx context.Context, c *Client, req *protocol.RequestFrame) (any, error) {
	if rec, err := s.authz.Get(ctx, c.origin); err == nil {
		return types.AuthorizeResponse{
			Result:             true,
			AuthorizedAccounts: rec.AuthorizedAccounts,
		}, nil
	} else if apperrors.CodeOf(err) != apperrors.ErrCodeUnauthorized {
		return nil, err
	}

	_, outcome := s.session.Auth.Enqueue(req.ID,
		types.AuthorizePayload{Origin: c.origin},
		s.tabMeta(c),
	)

	go func() {
		out := <-outcome
		if out.Err != nil {
			c.sendError(req.ID, apperrors.CodeOf(out.Err), out.Err.Error())
			return
		}
		c.SendResponse(protocol.NewResponse(req.ID, out.Value))
	}()

	return deferred, nil
}

func (s *Server) tabAccountsList(rec *types.OriginAuthorization) (any, error) {
	return authz.FilterAccounts(rec, s.keyring.Accounts()), nil
}

// tabAccountsSubscribe pushes the visible account list on every change. The
// grant is re-read per push, so a revocation empties the stream immediately.
func (s *Server) tabAccountsSubscribe(c *Client, req *protocol.RequestFrame) (any, error) {
	c.SendResponse(protocol.NewResponse(req.ID, true))

	id := req.ID
	c.addSubscription(id, s.keyring.SubscribeAccounts(func(accounts []types.AccountInfo) {
		rec, err := s.authz.Get(context.Background(), c.origin)
		if err != nil {
			c.SendResponse(protocol.NewSubscriptionPush(id, []types.InjectedAccount{}))
			return
		}
		c.SendResponse(protocol.NewSubscriptionPush(id, authz.FilterAccounts(rec, accounts)))
	}))
	return deferred, nil
}

func (s *Server) tabAccountsUnsubscribe(c *Client, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		ID string `json:"id"`
	}](req)
	if err != nil {
		return nil, err
	}
	return c.removeSubscription(payload.ID), nil
}

// tabSign parks a signing request until the user approves or cancels it.
func (s *Server) tabSign(c *Client, req *protocol.RequestFrame, rec *types.OriginAuthorization, kind types.SignerPayloadKind) (any, error) {
	payload, err := decodePayload[types.SignerPayload](req)
	if err != nil {
		return nil, err
	}
	payload.Kind = kind

	if _, err := s.keyring.GetPair(payload.Address); err != nil {
		return nil, err
	}
	if !rec.Allows(payload.Address) {
		return nil, apperrors.ErrUnauthorized
	}

	_, outcome := s.session.Sign.Enqueue(req.ID, payload, s.tabMeta(c))

	go func() {
		out := <-outcome
		if out.Err != nil {
			c.sendError(req.ID, apperrors.CodeOf(out.Err), out.Err.Error())
			return
		}
		c.SendResponse(protocol.NewResponse(req.ID, out.Value))
	}()

	return deferred, nil
}

// tabMetadataList exposes only what a page needs to decide whether to offer
// an update: genesis hash and spec version per known chain.
func (s *Server) tabMetadataList(ctx context.Context) (any, error) {
	defs, err := s.metaRepo.List(ctx)
	if err != nil {
		return nil, err
	}

	known := make([]types.MetadataKnown, 0, len(defs))
	for _, def := range defs {
		known = append(known, types.MetadataKnown{
			GenesisHash: def.GenesisHash,
			SpecVersion: def.SpecVersion,
		})
	}
	return known, nil
}

func (s *Server) tabMetadataProvide(c *Client, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[types.MetadataDef](req)
	if err != nil {
		return nil, err
	}
	if payload.GenesisHash == "" {
		return nil, apperrors.BadRequest("metadata needs a genesis hash")
	}

	_, outcome := s.session.Meta.Enqueue(req.ID, payload, s.tabMeta(c))

	go func() {
		out := <-outcome
		if out.Err != nil {
			c.sendError(req.ID, apperrors.CodeOf(out.Err), out.Err.Error())
			return
		}
		c.SendResponse(protocol.NewResponse(req.ID, out.Value))
	}()

	return deferred, nil
}

// tabPhishingRedirect checks the page-supplied destination against the
// deny-list. A denied URL additionally alerts the trusted UI.
func (s *Server) tabPhishingRedirect(c *Client, req *protocol.RequestFrame) (any, error) {
	payload, err := decodePayload[struct {
		URL string `json:"url"`
	}](req)
	if err != nil {
		return nil, err
	}

	denied := s.phishing.IsDenied(payload.URL)
	if denied {
		s.broadcastToUI(protocol.EventPhishingRedirect, map[string]string{
			"url": payload.URL,
			"tab": c.id,
		})
	}
	return denied, nil
}

func (s *Server) tabMeta(c *Client) session.Meta {
	return session.Meta{
		TabID:  c.id,
		Origin: c.origin,
		URL:    c.url,
	}
}
