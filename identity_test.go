package align

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
)

func TestDefaultIdentityResolverMintsFreshIDs(t *testing.T) {
	var r DefaultIdentityResolver

	first, err := r.ResolveInterlocutorID(context.Background(), domain.NewID(), domain.NewID(), "sms", "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, domain.ID{}, first)

	second, err := r.ResolveInterlocutorID(context.Background(), domain.NewID(), domain.NewID(), "sms", "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "expected a fresh ID per call since no cross-channel linking is attempted")
}
