package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/store/inmem"
)

func newTestContextLoader() (*ContextLoader, *inmem.SessionStore, *inmem.InterlocutorStore) {
	sessions := inmem.NewSessionStore()
	interlocutors := inmem.NewInterlocutorStore()
	loader := NewContextLoader(sessions, inmem.New(), interlocutors, nil, nil, nil, nil)
	return loader, sessions, interlocutors
}

func TestContextLoaderCreatesProfileOnFirstContact(t *testing.T) {
	loader, _, interlocutors := newTestContextLoader()
	tenantID, agentID := domain.NewID(), domain.NewID()

	ws := NewTurnWorkingSet(InboundMessage{
		TenantID: tenantID, AgentID: agentID, Channel: "sms", ChannelUserID: "new-user", Content: "hi",
	})
	require.NoError(t, loader.Run(context.Background(), ws))

	assert.NotEqual(t, domain.ID{}, ws.TurnContext.Session.InterlocutorID)
	assert.Equal(t, ws.TurnContext.Session.InterlocutorID, ws.TurnContext.Profile.ID)

	stored, err := interlocutors.GetProfile(context.Background(), tenantID, ws.TurnContext.Session.InterlocutorID)
	require.NoError(t, err, "the fresh profile must have been persisted, not just returned in memory")
	assert.Equal(t, ws.TurnContext.Session.InterlocutorID, stored.ID)
}

func TestContextLoaderLoadsExistingProfileWithoutRecreating(t *testing.T) {
	loader, sessions, interlocutors := newTestContextLoader()
	tenantID, agentID := domain.NewID(), domain.NewID()

	profile := *domain.NewInterlocutorProfile(tenantID, agentID)
	require.NoError(t, interlocutors.SaveProfile(context.Background(), profile))

	sess := domain.NewSession(tenantID, agentID, "sms", "existing-user", profile.ID, time.Now())
	require.NoError(t, sessions.Save(context.Background(), *sess))

	ws := NewTurnWorkingSet(InboundMessage{
		TenantID: tenantID, AgentID: agentID, Channel: "sms", ChannelUserID: "existing-user", Content: "hi again",
	})
	require.NoError(t, loader.Run(context.Background(), ws))
	assert.Equal(t, profile.ID, ws.TurnContext.Profile.ID)
}

type failingInterlocutorStore struct {
	*inmem.InterlocutorStore
	err error
}

func (f failingInterlocutorStore) GetProfile(_ context.Context, _, _ domain.ID) (domain.InterlocutorProfile, error) {
	return domain.InterlocutorProfile{}, f.err
}

func TestContextLoaderPropagatesNonNotFoundProfileErrors(t *testing.T) {
	sessions := inmem.NewSessionStore()
	wantErr := errors.New("connection refused")
	loader := NewContextLoader(sessions, inmem.New(), failingInterlocutorStore{InterlocutorStore: inmem.NewInterlocutorStore(), err: wantErr}, nil, nil, nil, nil)

	ws := NewTurnWorkingSet(InboundMessage{
		TenantID: domain.NewID(), AgentID: domain.NewID(), Channel: "sms", ChannelUserID: "user-1", Content: "hi",
	})
	err := loader.Run(context.Background(), ws)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestContextLoaderFatalFailureMode(t *testing.T) {
	loader, _, _ := newTestContextLoader()
	assert.Equal(t, FailFatal, loader.FailureMode())
	assert.Equal(t, "context_load", loader.Name())
}
