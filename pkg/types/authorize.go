package types

// AccessMode distinguishes the two shapes an origin authorization record can
// take. Legacy records authorized the whole keyring; current records carry an
// explicit account set. Keeping this a tagged variant makes the two shapes
// exhaustive instead of an optional-field convention.
type AccessMode string

const (
	// AccessAllowAll grants visibility of every non-hidden account (legacy records).
	AccessAllowAll AccessMode = "allow_all"

	// AccessAllowedSet grants visibility of an explicit account set.
	AccessAllowedSet AccessMode = "allowed_set"
)

// OriginAuthorization is one entry of the origin authorization table. An
// origin with no entry is implicitly unauthorized.
type OriginAuthorization struct {
	Origin             string     `json:"origin"`
	URL                string     `json:"url"`
	Mode               AccessMode `json:"mode"`
	AuthorizedAccounts []string   `json:"authorizedAccounts"`
	AuthorizedAt       int64      `json:"authorizedAt"`
}

// Allows reports whether the record grants visibility of the given address.
func (a *OriginAuthorization) Allows(address string) bool {
	switch a.Mode {
	case AccessAllowAll:
		return true
	case AccessAllowedSet:
		for _, allowed := range a.AuthorizedAccounts {
			if allowed == address {
				return true
			}
		}
	}
	return false
}

// AuthorizePayload is the page-supplied data of an authorization request.
type AuthorizePayload struct {
	Origin string `json:"origin"`
}

// AuthorizeResponse settles a pending authorization request.
type AuthorizeResponse struct {
	Result             bool     `json:"result"`
	AuthorizedAccounts []string `json:"authorizedAccounts"`
}
