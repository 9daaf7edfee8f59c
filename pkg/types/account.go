package types

// KeypairType identifies the signature scheme of an account.
type KeypairType string

const (
	KeypairTypeSecp256k1 KeypairType = "secp256k1"
)

// AccountMeta is the mutable metadata stored alongside a keystore entry.
type AccountMeta struct {
	Name          string `json:"name"`
	GenesisHash   string `json:"genesisHash,omitempty"`
	ParentAddress string `json:"parentAddress,omitempty"`
	Suri          string `json:"suri,omitempty"`
	IsHidden      bool   `json:"isHidden,omitempty"`
	IsExternal    bool   `json:"isExternal,omitempty"`
	IsHardware    bool   `json:"isHardware,omitempty"`
	HardwareType  string `json:"hardwareType,omitempty"`
	WhenCreated   int64  `json:"whenCreated,omitempty"`
}

// AccountInfo is the full account view served to the trusted UI.
type AccountInfo struct {
	Address string      `json:"address"`
	Type    KeypairType `json:"type"`
	AccountMeta
	IsDefaultAuthSelected bool `json:"isDefaultAuthSelected,omitempty"`
}

// InjectedAccount is the restricted account view exposed to authorized pages.
// Hidden accounts are filtered out before this shape is ever built.
type InjectedAccount struct {
	Address     string      `json:"address"`
	GenesisHash string      `json:"genesisHash,omitempty"`
	Name        string      `json:"name,omitempty"`
	Type        KeypairType `json:"type"`
}

// KeystoreJSON is the exported, password-encrypted form of a single account.
type KeystoreJSON struct {
	Address   string      `json:"address"`
	Encoded   string      `json:"encoded"`
	Salt      string      `json:"salt"`
	Nonce     string      `json:"nonce"`
	Type      KeypairType `json:"type"`
	Meta      AccountMeta `json:"meta"`
	Integrity string      `json:"integrity,omitempty"`
}

// KeystoreBatchJSON is the exported form of several accounts sharing one password.
type KeystoreBatchJSON struct {
	Accounts  []KeystoreJSON `json:"accounts"`
	Integrity string         `json:"integrity,omitempty"`
}
