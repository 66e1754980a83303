package sdk

// Field names a resolvable credential.
type Field string

// Resolvable credential fields. Values double as store record keys.
const (
	FieldAccessToken  Field = "access_token"
	FieldClientID     Field = "client_id"
	FieldClientSecret Field = "client_secret"
	FieldRefreshToken Field = "refresh_token"
)

// Fields lists every resolvable field in a stable order.
var Fields = []Field{FieldAccessToken, FieldClientID, FieldClientSecret, FieldRefreshToken}

// EnvName returns the environment variable consulted for f.
func (f Field) EnvName() string {
	switch f {
	case FieldAccessToken:
		return "PAN_ACCESS_TOKEN"
	case FieldClientID:
		return "PAN_CLIENT_ID"
	case FieldClientSecret:
		return "PAN_CLIENT_SECRET"
	case FieldRefreshToken:
		return "PAN_REFRESH_TOKEN"
	}
	return ""
}

// Snapshot is a read-only view of resolved credentials.
type Snapshot struct {
	AccessToken  string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Get returns the value of f.
func (s Snapshot) Get(f Field) string {
	switch f {
	case FieldAccessToken:
		return s.AccessToken
	case FieldClientID:
		return s.ClientID
	case FieldClientSecret:
		return s.ClientSecret
	case FieldRefreshToken:
		return s.RefreshToken
	}
	return ""
}

// Profile is the persisted record for one named credential profile.
// Fields are declared in key order so encoded records are sorted.
type Profile struct {
	AccessToken  string `json:"access_token,omitempty"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Profile      string `json:"profile"`
	RefreshToken string `json:"refresh_token"`
}

// Get returns the value of f.
func (p *Profile) Get(f Field) string {
	switch f {
	case FieldAccessToken:
		return p.AccessToken
	case FieldClientID:
		return p.ClientID
	case FieldClientSecret:
		return p.ClientSecret
	case FieldRefreshToken:
		return p.RefreshToken
	}
	return ""
}

// NewProfile builds the record persisted for snap. The access token is
// only carried when cacheToken is set.
func NewProfile(name string, snap Snapshot, cacheToken bool) *Profile {
	p := &Profile{
		Profile:      name,
		ClientID:     snap.ClientID,
		ClientSecret: snap.ClientSecret,
		RefreshToken: snap.RefreshToken,
	}
	if cacheToken {
		p.AccessToken = snap.AccessToken
	}
	return p
}

// CredentialStore provides persistent storage for credential profiles.
// Implementations can use a local file, the system keyring, or memory.
type CredentialStore interface {
	// Init creates the backing storage if absent. It is idempotent.
	Init() error

	// FetchCredential returns field for profile, or "" when absent.
	FetchCredential(field Field, profile string) (string, error)

	// WriteCredentials upserts profile and returns the record identifier.
	// When cacheToken is false the access token is never persisted.
	WriteCredentials(snap Snapshot, profile string, cacheToken bool) (int, error)

	// RemoveProfile deletes profile and returns the number of records removed.
	RemoveProfile(profile string) (int, error)
}

// StoreError indicates a credential storage error.
type StoreError struct {
	Operation string // "init", "fetch", "write", "remove"
	Profile   string
	Message   string
	Cause     error
}

func (e *StoreError) Error() string {
	msg := e.Operation + " credentials"
	if e.Profile != "" {
		msg += " for profile " + e.Profile
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}
