package models

// StoredCredential is a username/password pair applied to every target its
// match expression selects.
type StoredCredential struct {
	ID                 int64  `json:"id"`
	MatchExpression    string `json:"matchExpression"`
	Username           string `json:"username,omitempty"`
	Password           string `json:"-"`
	NumMatchingTargets int    `json:"numMatchingTargets"`
}

// CredentialDocType is the @type of persisted credentials.
const CredentialDocType = "StoredCredential"

// CredentialDocument is the persisted form of a StoredCredential. The
// password is stored encrypted.
type CredentialDocument struct {
	ID                string `json:"@id" couchdb:"_id"`
	Rev               string `json:"_rev,omitempty" couchdb:"_rev"`
	Type              string `json:"@type"`
	CredentialID      int64  `json:"credentialId"`
	MatchExpression   string `json:"matchExpression"`
	Username          string `json:"username"`
	EncryptedPassword string `json:"encryptedPassword"`
}

// Credential is what a recording client needs to authenticate.
type Credential struct {
	Username string
	Password string
}

// MatchedCredential is the resolved view of one stored credential.
type MatchedCredential struct {
	ID              int64    `json:"id"`
	MatchExpression string   `json:"matchExpression"`
	Targets         []Target `json:"targets"`
}
