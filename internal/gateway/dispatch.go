package gateway

import (
	"context"
	"encoding/json"

	"github.com/walletgate/walletgate/internal/logger"
	apperrors "github.com/walletgate/walletgate/pkg/errors"
	"github.com/walletgate/walletgate/pkg/protocol"
	"github.com/walletgate/walletgate/pkg/types"
)

// deferred is returned by handlers that settle their request later, once a
// pending user decision arrives. Dispatch must not respond for them.
var deferred = &struct{}{}

// dispatch routes one frame. The connection's trust bit selects the namespace;
// a type from the wrong namespace is indistinguishable from an unknown one.
func (s *Server) dispatch(ctx context.Context, c *Client, req *protocol.RequestFrame) {
	var (
		result any
		err    error
	)

	domain := "tab"
	if c.trusted {
		domain = "ui"
	}

	switch {
	case c.trusted:
		if !req.Type.IsTrusted() {
			err = apperrors.UnknownMessageType(string(req.Type))
			break
		}
		result, err = s.handleTrusted(ctx, c, req)

	default:
		if !req.Type.IsPublic() {
			err = apperrors.UnknownMessageType(string(req.Type))
			break
		}
		if !s.limiter.Allow(c.origin) {
			err = apperrors.ErrRateLimited
			break
		}

		var rec *types.OriginAuthorization
		if !req.Type.SkipsAuthorization() {
			rec, err = s.authz.EnsureAuthorized(ctx, c.origin)
			if err != nil {
				break
			}
		}
		result, err = s.handlePublic(ctx, c, req, rec)
	}

	if err != nil {
		logger.Debug(ctx, "frame failed", "type", req.Type, "error", err)
		s.metrics.FramesTotal.WithLabelValues(domain, "error").Inc()
		c.sendError(req.ID, apperrors.CodeOf(err), err.Error())
		return
	}

	s.metrics.FramesTotal.WithLabelValues(domain, "ok").Inc()
	if result == deferred {
		return
	}
	c.SendResponse(protocol.NewResponse(req.ID, result))
}

// handleTrusted covers the full closed set of extension UI operations.
func (s *Server) handleTrusted(ctx context.Context, c *Client, req *protocol.RequestFrame) (any, error) {
	switch req.Type {
	case protocol.MsgAccountsCreateSuri:
		return s.accountsCreateSuri(ctx, req)
	case protocol.MsgAccountsCreateHardware:
		return s.accountsCreateHardware(ctx, req)
	case protocol.MsgAccountsChangePassword:
		return s.accountsChangePassword(ctx, req)
	case protocol.MsgAccountsEdit:
		return s.accountsEdit(ctx, req)
	case protocol.MsgAccountsExport:
		return s.accountsExport(req)
	case protocol.MsgAccountsForget:
		return s.accountsForget(ctx, req)
	case protocol.MsgAccountsShow:
		return s.accountsShow(ctx, req)
	case protocol.MsgAccountsTie:
		return s.accountsTie(ctx, req)
	case protocol.MsgAccountsValidate:
		return s.accountsValidate(req)
	case protocol.MsgAccountsSubscribe:
		return s.accountsSubscribe(c, req)

	case protocol.MsgSeedCreate:
		return s.seedCreate(req)
	case protocol.MsgSeedValidate:
		return s.seedValidate(req)

	case protocol.MsgDeriveCreate:
		return s.derivationCreate(ctx, req)
	case protocol.MsgDeriveValidate:
		return s.derivationValidate(req)

	case protocol.MsgJSONRestore:
		return s.jsonRestore(ctx, req)
	case protocol.MsgJSONBatchRestore:
		return s.jsonBatchRestore(ctx, req)
	case protocol.MsgJSONAccountInfo:
		return s.jsonAccountInfo(req)

	case protocol.MsgAuthorizeApprove:
		return s.authorizeApprove(ctx, req)
	case protocol.MsgAuthorizeReject:
		return s.authorizeReject(req)
	case protocol.MsgAuthorizeList:
		return s.authorizeList(ctx)
	case protocol.MsgAuthorizeRemove:
		return s.authorizeRemove(ctx, req)
	case protocol.MsgAuthorizeUpdate:
		return s.authorizeUpdate(ctx, req)
	case protocol.MsgAuthorizeDeleteRequest:
		return s.authorizeDeleteRequest(req)
	case protocol.MsgAuthorizeSubscribe:
		return s.authorizeSubscribe(c, req)

	case protocol.MsgMetadataApprove:
		return s.metadataApprove(ctx, req)
	case protocol.MsgMetadataReject:
		return s.metadataReject(req)
	case protocol.MsgMetadataList:
		return s.metadataListTrusted(ctx)
	case protocol.MsgMetadataGet:
		return s.metadataGet(ctx, req)
	case protocol.MsgMetadataSubscribe:
		return s.metadataSubscribe(c, req)

	case protocol.MsgSigningApprovePassword:
		return s.signingApprovePassword(req)
	case protocol.MsgSigningApproveSignature:
		return s.signingApproveSignature(req)
	case protocol.MsgSigningCancel:
		return s.signingCancel(req)
	case protocol.MsgSigningIsLocked:
		return s.signingIsLocked(req)
	case protocol.MsgSigningSubscribe:
		return s.signingSubscribe(c, req)

	case protocol.MsgWindowOpen:
		return s.windowOpen(req)
	case protocol.MsgPing:
		return true, nil
	case protocol.MsgActiveTabsURLUpdate:
		return s.activeTabsURLUpdate(ctx, req)
	case protocol.MsgConnectedTabsURLGet:
		return s.connectedTabsURL(ctx)

	default:
		return nil, apperrors.UnknownMessageType(string(req.Type))
	}
}

// handlePublic covers the page operations. rec is nil only for the types that
// skip the authorization gate.
func (s *Server) handlePublic(ctx context.Context, c *Client, req *protocol.RequestFrame, rec *types.OriginAuthorization) (any, error) {
	switch req.Type {
	case protocol.MsgTabAuthorize:
		return s.tabAuthorize(ctx, c, req)
	case protocol.MsgTabAccountsList:
		return s.tabAccountsList(rec)
	case protocol.MsgTabAccountsSubscribe:
		return s.tabAccountsSubscribe(c, req)
	case protocol.MsgTabAccountsUnsubscribe:
		return s.tabAccountsUnsubscribe(c, req)
	case protocol.MsgTabBytesSign:
		return s.tabSign(c, req, rec, types.PayloadKindBytes)
	case protocol.MsgTabExtrinsicSign:
		return s.tabSign(c, req, rec, types.PayloadKindExtrinsic)
	case protocol.MsgTabMetadataList:
		return s.tabMetadataList(ctx)
	case protocol.MsgTabMetadataProvide:
		return s.tabMetadataProvide(c, req)
	case protocol.MsgTabPhishingRedirect:
		return s.tabPhishingRedirect(c, req)

	default:
		return nil, apperrors.UnknownMessageType(string(req.Type))
	}
}

// decodePayload unmarshals a request payload into the expected shape.
func decodePayload[T any](req *protocol.RequestFrame) (T, error) {
	var v T
	if len(req.Payload) == 0 {
		return v, apperrors.BadRequest("missing payload")
	}
	if err := json.Unmarshal(req.Payload, &v); err != nil {
		return v, apperrors.BadRequest("invalid payload: " + err.Error())
	}
	return v, nil
}
