package service

import "fmt"

// DiscoveryService builds responses for discovery endpoints.
type DiscoveryService struct{}

// AuthorizationServerMetadata matches the RFC 8414 discovery document.
type AuthorizationServerMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethods      []string `json:"token_endpoint_auth_methods_supported"`
}

// Metadata builds the authorization-server discovery document.
func (s *DiscoveryService) Metadata(issuer string) AuthorizationServerMetadata {
	return AuthorizationServerMetadata{
		Issuer:                        issuer,
		AuthorizationEndpoint:         fmt.Sprintf("%s/oauth/authorize", issuer),
		TokenEndpoint:                 fmt.Sprintf("%s/oauth/token", issuer),
		IntrospectionEndpoint:         fmt.Sprintf("%s/oauth/introspect", issuer),
		RevocationEndpoint:            fmt.Sprintf("%s/oauth/revoke", issuer),
		JWKSURI:                       fmt.Sprintf("%s/.well-known/jwks.json", issuer),
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported: []string{"S256"},
		TokenEndpointAuthMethods:      []string{"client_secret_post", "none"},
	}
}
