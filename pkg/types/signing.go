package types

// SignerPayloadKind tags the two payload shapes a page can ask to have signed.
type SignerPayloadKind string

const (
	PayloadKindBytes     SignerPayloadKind = "bytes"
	PayloadKindExtrinsic SignerPayloadKind = "extrinsic"
)

// SignerPayload is a signing request payload. For bytes signing only Address
// and Data are set; extrinsic payloads additionally carry the chain context
// needed to reconstruct the signable blob.
type SignerPayload struct {
	Kind        SignerPayloadKind `json:"kind"`
	Address     string            `json:"address"`
	Data        string            `json:"data"` // hex-encoded
	GenesisHash string            `json:"genesisHash,omitempty"`
	BlockHash   string            `json:"blockHash,omitempty"`
	BlockNumber string            `json:"blockNumber,omitempty"`
	Era         string            `json:"era,omitempty"`
	Method      string            `json:"method,omitempty"`
	Nonce       string            `json:"nonce,omitempty"`
	SpecVersion string            `json:"specVersion,omitempty"`
	TipAmount   string            `json:"tip,omitempty"`
}

// SignatureResult settles a pending signing request.
type SignatureResult struct {
	ID        string `json:"id"`
	Signature string `json:"signature"` // hex-encoded
}
