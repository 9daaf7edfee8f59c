// Package protocol defines the wire format spoken over the walletgate
// WebSocket channels. Both the trusted UI channel and the per-tab page
// channels use the same envelopes; the message-type namespaces differ.
package protocol

import "encoding/json"

// RequestFrame is sent by clients to invoke an operation.
type RequestFrame struct {
	ID      string          `json:"id"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResponseFrame settles a request. Exactly one of Response or Error is set.
// Subscription pushes reuse the original subscribe request's ID with the
// Subscription field set instead.
type ResponseFrame struct {
	ID           string          `json:"id"`
	Response     any             `json:"response,omitempty"`
	Error        string          `json:"error,omitempty"`
	Code         string          `json:"code,omitempty"`
	Subscription any             `json:"subscription,omitempty"`
}

// NewResponse creates a success response frame.
func NewResponse(id string, response any) *ResponseFrame {
	return &ResponseFrame{ID: id, Response: response}
}

// NewErrorResponse creates an error response frame. The message string is the
// primary error surface; code is an additive hint.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{ID: id, Error: message, Code: code}
}

// NewSubscriptionPush creates a push frame against a previously established
// subscription id.
func NewSubscriptionPush(id string, payload any) *ResponseFrame {
	return &ResponseFrame{ID: id, Subscription: payload}
}

// IsError reports whether the frame settles its request with an error.
func (f *ResponseFrame) IsError() bool { return f.Error != "" }

// EventFrame is an unsolicited server push outside any subscription.
type EventFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}
