package session

import "time"

// Session is the durable record of one conversation. A session is
// owned by exactly one user at a time; ChannelHistory records every
// surface the conversation has crossed, not just the current one.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	ActiveChannelID string    `json:"active_channel_id"`
	ChannelHistory  []string  `json:"channel_history"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	TurnCount       int       `json:"turn_count"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	dup.ChannelHistory = make([]string, len(s.ChannelHistory))
	copy(dup.ChannelHistory, s.ChannelHistory)
	return &dup
}

// Summary is produced when a session ends.
type Summary struct {
	SessionID      string    `json:"session_id"`
	Summary        string    `json:"summary"`
	KeyTopics      []string  `json:"key_topics,omitempty"`
	EmotionalTone  string    `json:"emotional_tone,omitempty"`
	ChannelHistory []string  `json:"channel_history"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// Stats reports activity counters for a session.
type Stats struct {
	SessionID      string    `json:"session_id"`
	TurnCount      int       `json:"turn_count"`
	Channels       []string  `json:"channels"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Resolved is the router's answer to "which session does this message
// belong to". Previous carries a prior session record when one is
// relevant for cross-session continuity; it is nil on an ordinary
// channel switch within the same session.
type Resolved struct {
	Session         *Session `json:"session"`
	IsNew           bool     `json:"is_new"`
	ChannelSwitched bool     `json:"channel_switched"`
	Previous        *Session `json:"previous,omitempty"`
}

// ChannelContext describes the channel situation of a resolved session
// for downstream prompt adaptation.
type ChannelContext struct {
	CurrentChannel  string   `json:"current_channel"`
	PreviousChannel string   `json:"previous_channel,omitempty"`
	ChannelSwitched bool     `json:"channel_switched"`
	SessionChannels []string `json:"session_channels"`
}

// ChannelContext derives the channel situation from a resolution.
// PreviousChannel is the second-to-last history entry when a switch
// occurred on a non-new session, and empty otherwise.
func (r *Resolved) ChannelContext() ChannelContext {
	cc := ChannelContext{
		CurrentChannel:  r.Session.ActiveChannelID,
		ChannelSwitched: r.ChannelSwitched,
		SessionChannels: append([]string(nil), r.Session.ChannelHistory...),
	}
	if r.ChannelSwitched && !r.IsNew && len(r.Session.ChannelHistory) >= 2 {
		cc.PreviousChannel = r.Session.ChannelHistory[len(r.Session.ChannelHistory)-2]
	}
	return cc
}
