package protocol

import "strings"

// MessageType names one operation of the closed request set. Types prefixed
// "pri(" are only dispatched for the trusted UI channel, "pub(" only for page
// channels; the router enforces the split by connection identity.
type MessageType string

// Trusted (extension UI) message types.
const (
	MsgAccountsCreateSuri     MessageType = "pri(accounts.create.suri)"
	MsgAccountsCreateHardware MessageType = "pri(accounts.create.hardware)"
	MsgAccountsChangePassword MessageType = "pri(accounts.changePassword)"
	MsgAccountsEdit           MessageType = "pri(accounts.edit)"
	MsgAccountsExport         MessageType = "pri(accounts.export)"
	MsgAccountsForget         MessageType = "pri(accounts.forget)"
	MsgAccountsShow           MessageType = "pri(accounts.show)"
	MsgAccountsTie            MessageType = "pri(accounts.tie)"
	MsgAccountsValidate       MessageType = "pri(accounts.validate)"
	MsgAccountsSubscribe      MessageType = "pri(accounts.subscribe)"

	MsgSeedCreate   MessageType = "pri(seed.create)"
	MsgSeedValidate MessageType = "pri(seed.validate)"

	MsgDeriveCreate   MessageType = "pri(derivation.create)"
	MsgDeriveValidate MessageType = "pri(derivation.validate)"

	MsgJSONRestore      MessageType = "pri(json.restore)"
	MsgJSONBatchRestore MessageType = "pri(json.batchRestore)"
	MsgJSONAccountInfo  MessageType = "pri(json.account.info)"

	MsgAuthorizeApprove       MessageType = "pri(authorize.approve)"
	MsgAuthorizeReject        MessageType = "pri(authorize.reject)"
	MsgAuthorizeList          MessageType = "pri(authorize.list)"
	MsgAuthorizeRemove        MessageType = "pri(authorize.remove)"
	MsgAuthorizeUpdate        MessageType = "pri(authorize.update)"
	MsgAuthorizeDeleteRequest MessageType = "pri(authorize.delete.request)"
	MsgAuthorizeSubscribe     MessageType = "pri(authorize.requests)"

	MsgMetadataApprove   MessageType = "pri(metadata.approve)"
	MsgMetadataReject    MessageType = "pri(metadata.reject)"
	MsgMetadataList      MessageType = "pri(metadata.list)"
	MsgMetadataGet       MessageType = "pri(metadata.get)"
	MsgMetadataSubscribe MessageType = "pri(metadata.requests)"

	MsgSigningApprovePassword  MessageType = "pri(signing.approve.password)"
	MsgSigningApproveSignature MessageType = "pri(signing.approve.signature)"
	MsgSigningCancel           MessageType = "pri(signing.cancel)"
	MsgSigningIsLocked         MessageType = "pri(signing.isLocked)"
	MsgSigningSubscribe        MessageType = "pri(signing.requests)"

	MsgWindowOpen          MessageType = "pri(window.open)"
	MsgPing                MessageType = "pri(ping)"
	MsgActiveTabsURLUpdate MessageType = "pri(activeTabsUrl.update)"
	MsgConnectedTabsURLGet MessageType = "pri(connectedTabsUrl.get)"
)

// Untrusted (page) message types.
const (
	MsgTabAuthorize           MessageType = "pub(authorize.tab)"
	MsgTabAccountsList        MessageType = "pub(accounts.list)"
	MsgTabAccountsSubscribe   MessageType = "pub(accounts.subscribe)"
	MsgTabAccountsUnsubscribe MessageType = "pub(accounts.unsubscribe)"
	MsgTabBytesSign           MessageType = "pub(bytes.sign)"
	MsgTabExtrinsicSign       MessageType = "pub(extrinsic.sign)"
	MsgTabMetadataList        MessageType = "pub(metadata.list)"
	MsgTabMetadataProvide     MessageType = "pub(metadata.provide)"
	MsgTabPhishingRedirect    MessageType = "pub(phishing.redirectIfDenied)"
)

// Events pushed by the server outside of subscriptions.
const (
	EventWindowOpen       = "window.open"
	EventPhishingRedirect = "phishing.redirect"
)

// IsTrusted reports whether the type belongs to the trusted UI namespace.
func (t MessageType) IsTrusted() bool {
	return strings.HasPrefix(string(t), "pri(")
}

// IsPublic reports whether the type belongs to the page namespace.
func (t MessageType) IsPublic() bool {
	return strings.HasPrefix(string(t), "pub(")
}

// SkipsAuthorization reports whether a page message type bypasses the origin
// authorization gate. Only the authorization request itself and the phishing
// check may reach a handler for an unauthorized origin.
func (t MessageType) SkipsAuthorization() bool {
	return t == MsgTabAuthorize || t == MsgTabPhishingRedirect
}
