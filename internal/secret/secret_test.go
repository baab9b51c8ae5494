package secret_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PiloTracer/tools-dashboard-sub002/internal/secret"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := secret.Hash("s3cr3t-value")
	require.NoError(t, err)

	ok, err := secret.Verify("s3cr3t-value", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = secret.Verify("wrong-value", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	_, err := secret.Verify("anything", "$bcrypt$nope")
	require.Error(t, err)
}
