package domain

// Session is the identity credential issued by the backend. Token authorizes
// the persistent connection; ID and Name describe the player.
type Session struct {
	Token string `json:"token"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

// Valid reports whether the session carries a usable token.
func (s Session) Valid() bool {
	return s.Token != ""
}

// IdentityProvider yields the current session, or false when logged out.
// Implementations must not block.
type IdentityProvider interface {
	CurrentIdentity() (Session, bool)
}

// LoginProvider names a third-party identity provider with a redirect login.
type LoginProvider string

const (
	LoginGoogle LoginProvider = "google"
	LoginGitHub LoginProvider = "github"
)
