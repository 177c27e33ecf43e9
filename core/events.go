package core

import (
	"context"
	"time"
)

// Event types published by the account lifecycle and the access-code gate.
const (
	EventAccountRegistered    = "account.registered"
	EventRoleChanged          = "account.role_changed"
	EventAccountDisabled      = "account.disabled"
	EventAccountEnabled       = "account.enabled"
	EventAccountDeleted       = "account.deleted"
	EventFacultyPurged        = "faculty.purged"
	EventAccessCodeRedeemed   = "access_code.redeemed"
	EventAccessCodeRevoked    = "access_code.revoked"
	EventAccessCodeReactivate = "access_code.reactivated"
)

// Event is an audit record of a state change.
type Event struct {
	Type       string                 `json:"type"`
	Subject    string                 `json:"subject"`
	Actor      string                 `json:"actor,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
}

// EventPublisher is any service that can deliver events. Delivery failures are never fatal
// to the change that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Outcome tells whether a mutation changed anything.
type Outcome int

const (
	Applied   Outcome = iota + 1 // the change was written
	Unchanged                    // already in the desired state, nothing written
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Unchanged:
		return "unchanged"
	default:
		return "failed"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
