package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/turnkit/align/domain"
	"github.com/turnkit/align/migration"
	"github.com/turnkit/align/store"
	"github.com/turnkit/align/telemetry"
)

// IdentityResolver maps a channel identity to a durable interlocutor id,
// creating a new interlocutor profile on first contact. Implementations
// typically scan InterlocutorProfile.ChannelIdentities or a dedicated index.
type IdentityResolver interface {
	ResolveInterlocutorID(ctx context.Context, tenantID, agentID domain.ID, channel, channelUserID string) (domain.ID, error)
}

// ContextLoader is Phase 1: it builds the immutable TurnContext every later
// phase reads from. Its own errors are fatal (spec.md §4.1, §7): a session
// or configuration repository failure means there is nothing safe to
// process the turn against.
type ContextLoader struct {
	Sessions      store.SessionRepository
	Config        store.ConfigRepository
	Interlocutors store.InterlocutorRepository
	Identities    IdentityResolver
	Migrations    *migration.Executor
	Clock         func() time.Time
	Log           telemetry.Logger
}

// NewContextLoader wires a ContextLoader. A nil Clock defaults to time.Now;
// a nil Log defaults to a no-op logger.
func NewContextLoader(sessions store.SessionRepository, cfg store.ConfigRepository, interlocutors store.InterlocutorRepository, identities IdentityResolver, migrations *migration.Executor, clock func() time.Time, log telemetry.Logger) *ContextLoader {
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &ContextLoader{Sessions: sessions, Config: cfg, Interlocutors: interlocutors, Identities: identities, Migrations: migrations, Clock: clock, Log: log}
}

func (l *ContextLoader) Name() string            { return "context_load" }
func (l *ContextLoader) FailureMode() FailureMode { return FailFatal }

// Run resolves or creates the session, loads the interlocutor profile,
// pipeline configuration, field schema, and glossary, and runs scenario
// reconciliation (spec.md §4.5) if the session is currently attached to a
// scenario whose cached checksum may be stale.
func (l *ContextLoader) Run(ctx context.Context, ws *TurnWorkingSet) error {
	sess, err := l.resolveSession(ctx, ws)
	if err != nil {
		return fmt.Errorf("pipeline: context_load: resolve session: %w", err)
	}

	cfg, err := l.Config.LoadPipelineConfig(ctx, ws.TenantID, ws.AgentID)
	if err != nil {
		return fmt.Errorf("pipeline: context_load: load pipeline config: %w", err)
	}

	profile, err := l.Interlocutors.GetProfile(ctx, ws.TenantID, sess.InterlocutorID)
	if errors.Is(err, store.ErrNotFound) {
		profile, err = l.createProfile(ctx, ws, sess.InterlocutorID)
	}
	if err != nil {
		return fmt.Errorf("pipeline: context_load: load interlocutor profile: %w", err)
	}

	fields, err := l.Config.ListInterlocutorFields(ctx, ws.TenantID, ws.AgentID)
	if err != nil {
		return fmt.Errorf("pipeline: context_load: list interlocutor fields: %w", err)
	}
	glossary, err := l.Config.ListGlossary(ctx, ws.TenantID, ws.AgentID)
	if err != nil {
		return fmt.Errorf("pipeline: context_load: list glossary: %w", err)
	}

	recon := migration.ReconciliationResult{Action: migration.ActionContinue}
	if sess.InScenario() && l.Migrations != nil {
		scenario, err := l.Config.GetLatestScenario(ctx, ws.TenantID, *sess.ActiveScenarioID)
		if err != nil {
			return fmt.Errorf("pipeline: context_load: load active scenario: %w", err)
		}
		recon, err = l.Migrations.Reconcile(ctx, &sess, scenario)
		if err != nil {
			return fmt.Errorf("pipeline: context_load: reconcile scenario version: %w", err)
		}
		if err := l.Sessions.Save(ctx, sess); err != nil {
			return fmt.Errorf("pipeline: context_load: persist reconciled session: %w", err)
		}
	}

	now := l.Clock()
	ws.TurnContext = TurnContext{
		TenantID:      ws.TenantID,
		AgentID:       ws.AgentID,
		Channel:       ws.Channel,
		ChannelUserID: ws.ChannelUserID,
		Message:       ws.Message,
		Metadata:      ws.Metadata,

		Session:     &sess,
		Profile:     profile,
		Config:      cfg,
		FieldSchema: fields,
		Glossary:    glossary,

		Reconciliation: recon,
		TurnID:         domain.NewID(),
		TurnNumber:     sess.TurnCount + 1,
		Now:            now,
		Deadline:       now.Add(cfg.TurnDeadline),
	}
	return nil
}

// createProfile persists an empty profile for an interlocutor seen for the
// first time (a brand-new session's InterlocutorID never resolves to an
// existing profile). It reuses interlocutorID rather than
// domain.NewInterlocutorProfile's own minted ID, since the session already
// committed to that identity.
func (l *ContextLoader) createProfile(ctx context.Context, ws *TurnWorkingSet, interlocutorID domain.ID) (domain.InterlocutorProfile, error) {
	profile := *domain.NewInterlocutorProfile(ws.TenantID, ws.AgentID)
	profile.ID = interlocutorID
	if err := l.Interlocutors.SaveProfile(ctx, profile); err != nil {
		return domain.InterlocutorProfile{}, err
	}
	return profile, nil
}

func (l *ContextLoader) resolveSession(ctx context.Context, ws *TurnWorkingSet) (domain.Session, error) {
	if ws.Session != nil {
		sess, err := l.Sessions.Get(ctx, ws.TenantID, ws.Session.ID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, err
		}
	}

	sess, err := l.Sessions.GetByChannelUser(ctx, ws.TenantID, ws.Channel, ws.ChannelUserID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, err
	}

	interlocutorID := domain.NewID()
	if l.Identities != nil {
		id, err := l.Identities.ResolveInterlocutorID(ctx, ws.TenantID, ws.AgentID, ws.Channel, ws.ChannelUserID)
		if err != nil {
			return domain.Session{}, fmt.Errorf("resolve interlocutor identity: %w", err)
		}
		interlocutorID = id
	}

	now := l.Clock()
	fresh := domain.NewSession(ws.TenantID, ws.AgentID, ws.Channel, ws.ChannelUserID, interlocutorID, now)
	if err := l.Sessions.Save(ctx, *fresh); err != nil {
		return domain.Session{}, fmt.Errorf("persist new session: %w", err)
	}
	return *fresh, nil
}
