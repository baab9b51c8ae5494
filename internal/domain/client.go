package domain

import "time"

// Client mirrors the registry entry for a registered OAuth client.
// The registry is an external collaborator; this is the shape the core
// consumes through ClientRepository.
type Client struct {
	ClientID     string
	SecretHash   string
	RedirectURIs []string
	Scopes       []string
	Active       bool
	CreatedAt    time.Time
}

// AllowsRedirectURI reports whether the URI was registered for the client.
func (c Client) AllowsRedirectURI(uri string) bool {
	for _, allowed := range c.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}

// AllowsScope reports whether every requested scope is registered.
func (c Client) AllowsScope(requested []string) bool {
	allowed := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		allowed[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := allowed[s]; !ok {
			return false
		}
	}
	return true
}
