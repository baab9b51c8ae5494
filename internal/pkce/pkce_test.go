package pkce_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/pkce"
)

func TestVerifyMatchingVerifier(t *testing.T) {
	verifier := strings.Repeat("a", 43)
	challenge := pkce.Challenge(verifier)
	require.True(t, pkce.Verify(challenge, verifier))
}

func TestVerifyRejectsWrongVerifier(t *testing.T) {
	challenge := pkce.Challenge(strings.Repeat("a", 43))
	require.False(t, pkce.Verify(challenge, strings.Repeat("b", 43)))
}

func TestVerifyRejectsShortVerifier(t *testing.T) {
	verifier := "too-short"
	challenge := pkce.Challenge(verifier)
	require.False(t, pkce.Verify(challenge, verifier))
}

func TestVerifyRejectsOverlongVerifier(t *testing.T) {
	verifier := strings.Repeat("a", 129)
	challenge := pkce.Challenge(verifier)
	require.False(t, pkce.Verify(challenge, verifier))
}

func TestChallengeKnownVector(t *testing.T) {
	// Appendix B of RFC 7636.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	require.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", pkce.Challenge(verifier))
}
