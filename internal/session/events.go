package session

import (
	"time"

	"github.com/Skotchmaster/interview_prep/internal/models"
)

type EventType string

const (
	EventAuthenticated  EventType = "authenticated"
	EventRefreshed      EventType = "refreshed"
	EventUserUpdated    EventType = "user_updated"
	EventLoggedOut      EventType = "logged_out"
	EventSessionExpired EventType = "session_expired"
)

// Event reports what happened to the session in the background. UI code
// that only cares about foreground failures can ignore events entirely.
type Event struct {
	Type   EventType
	Reason string
	User   *models.UserProfile
	Err    error
	At     time.Time
}
