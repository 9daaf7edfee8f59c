package types

import "encoding/json"

// MetadataDef describes one chain's metadata as provided by a page. Types is
// kept opaque; decoding is out of scope for this service.
type MetadataDef struct {
	GenesisHash   string          `json:"genesisHash"`
	Chain         string          `json:"chain"`
	SpecVersion   uint32          `json:"specVersion"`
	SS58Format    uint32          `json:"ss58Format"`
	TokenDecimals uint32          `json:"tokenDecimals"`
	TokenSymbol   string          `json:"tokenSymbol"`
	Types         json.RawMessage `json:"types,omitempty"`
}

// MetadataKnown is the restricted metadata view exposed to pages.
type MetadataKnown struct {
	GenesisHash string `json:"genesisHash"`
	SpecVersion uint32 `json:"specVersion"`
}
