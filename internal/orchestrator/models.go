package orchestrator

import (
	"time"

	"vod2live/internal/hlsvod"
)

// SessionID uniquely identifies a viewer session.
type SessionID string

// Session is the persisted state of one viewer's simulated live stream.
// It is small and JSON-encodable so it can live in any Store.
type Session struct {
	ID SessionID `json:"id"`

	// Position is the index of the channel entry currently playing out.
	Position int `json:"position"`

	// StartedAt is when window 0 of the asset at Position went live.
	StartedAt time.Time `json:"started_at"`

	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// SessionStatus describes where a session currently is in its stream.
type SessionStatus struct {
	Session

	AssetID       string             `json:"asset_id"`
	Source        string             `json:"source"`
	Window        int                `json:"window"`
	WindowCount   int                `json:"window_count"`
	MediaSequence int                `json:"media_sequence"`
	Bandwidths    []hlsvod.Bandwidth `json:"bandwidths"`
	Ended         bool               `json:"ended"`
}
