package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists session records. Implementations must make Create
// atomic for a given user: two concurrent creates for the same user
// must resolve to a single live session (e.g. via a unique
// active-session-per-user index). The router holds no lock of its own.
type Store interface {
	// GetActive returns the most recently active, not-yet-ended session
	// for a user, or nil when none exists.
	GetActive(ctx context.Context, userID string) (*Session, error)

	// Create inserts a new session. When a live session already exists
	// for the user, the store returns that session with created=false
	// instead of inserting a second one.
	Create(ctx context.Context, sess *Session) (created *Session, fresh bool, err error)

	// SetActiveChannel updates the active channel and appends it to the
	// session's channel history.
	SetActiveChannel(ctx context.Context, sessionID, channelID string) error

	// UpdateActivity bumps last-activity time and turn count.
	UpdateActivity(ctx context.Context, sessionID string) error

	// Stats returns activity counters for a session.
	Stats(ctx context.Context, sessionID string) (*Stats, error)

	// End finalizes a session and returns its summary. Fails when the
	// session does not exist or has already ended.
	End(ctx context.Context, sessionID string) (*Summary, error)
}

// Resolver maps an inbound (user, channel) pair to a session and
// detects channel switches. It also tracks each session's lifecycle
// state in process; a session resolved here is active, and End walks
// it through summarizing and ending before it is finalized.
type Resolver struct {
	store  Store
	logger *slog.Logger

	nowFunc func() time.Time // injectable for testing; defaults to time.Now
	newID   func() string

	mu     sync.Mutex
	states map[string]State // by session ID; in-process only
}

// NewResolver creates a session resolver over the given store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:   store,
		logger:  logger,
		nowFunc: time.Now,
		newID: func() string {
			id, _ := uuid.NewV7()
			return id.String()
		},
		states: make(map[string]State),
	}
}

// track begins lifecycle tracking for a session the first time this
// process sees it, moving it from initializing to active.
func (r *Resolver) track(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[sessionID]; ok {
		return
	}
	state, err := Transition(StateInitializing, StateActive)
	if err != nil {
		return
	}
	r.states[sessionID] = state
}

// State reports a session's tracked lifecycle state. Sessions that
// predate this process are assumed active.
func (r *Resolver) State(sessionID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.states[sessionID]; ok {
		return state
	}
	return StateActive
}

// Resolve finds or creates the session an inbound message belongs to.
// IsNew is true only when this call created the session. When the
// user's live session is active on a different channel, the channel is
// appended to the history and ChannelSwitched is set.
func (r *Resolver) Resolve(ctx context.Context, userID, channelID string) (*Resolved, error) {
	existing, err := r.store.GetActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}

	if existing == nil {
		now := r.nowFunc()
		sess, fresh, err := r.store.Create(ctx, &Session{
			ID:              r.newID(),
			UserID:          userID,
			ActiveChannelID: channelID,
			ChannelHistory:  []string{channelID},
			StartedAt:       now,
			LastActivityAt:  now,
		})
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		if fresh {
			r.track(sess.ID)
			r.logger.Info("session created",
				"session_id", sess.ID,
				"user_id", userID,
				"channel", channelID,
			)
			return &Resolved{Session: sess, IsNew: true}, nil
		}
		// Lost a create race; continue with the winner's session.
		existing = sess
	}
	r.track(existing.ID)

	if existing.ActiveChannelID != channelID {
		if err := r.store.SetActiveChannel(ctx, existing.ID, channelID); err != nil {
			return nil, fmt.Errorf("switch channel: %w", err)
		}
		existing.ChannelHistory = append(existing.ChannelHistory, channelID)
		existing.ActiveChannelID = channelID
		r.logger.Info("channel switched",
			"session_id", existing.ID,
			"user_id", userID,
			"channel", channelID,
			"history", len(existing.ChannelHistory),
		)
		return &Resolved{Session: existing, ChannelSwitched: true}, nil
	}

	return &Resolved{Session: existing}, nil
}

// UpdateActivity records a completed turn. Call it once per message,
// after delivery; a failed send must not inflate the turn count.
func (r *Resolver) UpdateActivity(ctx context.Context, sessionID string) error {
	if err := r.store.UpdateActivity(ctx, sessionID); err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	return nil
}

// End finalizes a session, walking it through summarizing and ending
// before the store commits it. Ending a session that already ended in
// this process fails with a *TransitionError.
func (r *Resolver) End(ctx context.Context, sessionID string) (*Summary, error) {
	r.mu.Lock()
	current, ok := r.states[sessionID]
	if !ok {
		current = StateActive
	}
	for _, next := range []State{StateSummarizing, StateEnding} {
		state, err := Transition(current, next)
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("end session: %w", err)
		}
		current = state
	}
	// Holding the session in ending blocks a concurrent End.
	r.states[sessionID] = current
	r.mu.Unlock()

	summary, err := r.store.End(ctx, sessionID)
	if err != nil {
		// Roll back so a later retry can still end the session.
		r.mu.Lock()
		r.states[sessionID] = StateActive
		r.mu.Unlock()
		return nil, fmt.Errorf("end session: %w", err)
	}

	r.mu.Lock()
	if state, terr := Transition(current, StateEnded); terr == nil {
		r.states[sessionID] = state
	}
	r.mu.Unlock()

	r.logger.Info("session ended",
		"session_id", sessionID,
		"channels", len(summary.ChannelHistory),
	)
	return summary, nil
}
