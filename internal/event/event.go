package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeUserRegistered         Type = "user.registered"
	TypeCarrierPendingApproval Type = "carrier.pending_approval"
	TypeUserLoggedIn           Type = "user.logged_in"
	TypeUserStatusChanged      Type = "user.status_changed"
)

type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   string    `json:"actorId,omitempty"` // Who triggered the event
}

// UserPayload identifies the account an event is about.
type UserPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

type StatusChangedPayload struct {
	UserID string `json:"userId"`
	From   string `json:"from"`
	To     string `json:"to"`
}

func New(t Type, actorID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		ActorID:   actorID,
	}
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
