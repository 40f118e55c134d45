package align

import (
	"context"

	"github.com/turnkit/align/domain"
)

// DefaultIdentityResolver mints a fresh interlocutor ID for every
// channel/channel-user pair the pipeline has not already attached to a
// session. It does not attempt cross-channel identity linking (e.g.
// recognizing the same human on two different channels): doing that
// durably needs an index from (channel, channel_user_id) to profile ID
// that store.InterlocutorRepository does not expose, and adding one here
// would mean inventing a lookup no example in the retrieval pack
// demonstrates. Callers who need cross-channel linking supply their own
// pipeline.IdentityResolver backed by such an index.
type DefaultIdentityResolver struct{}

func (DefaultIdentityResolver) ResolveInterlocutorID(ctx context.Context, tenantID, agentID domain.ID, channel, channelUserID string) (domain.ID, error) {
	return domain.NewID(), nil
}
