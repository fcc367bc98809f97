package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeUserDeactivated = "user.deactivated"
	EventTypeUserDeleted     = "user.deleted"
)

// UserDeactivatedEvent fires when an administrator toggles an account
// inactive. Subscribers force-logout the user.
type UserDeactivatedEvent struct {
	BaseEvent
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

func NewUserDeactivatedEvent(userID int64, username string) *UserDeactivatedEvent {
	return &UserDeactivatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeUserDeactivated,
			Timestamp: time.Now(),
		},
		UserID:   userID,
		Username: username,
	}
}

// UserDeletedEvent fires when a user record is removed.
type UserDeletedEvent struct {
	BaseEvent
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

func NewUserDeletedEvent(userID int64, username string) *UserDeletedEvent {
	return &UserDeletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeUserDeleted,
			Timestamp: time.Now(),
		},
		UserID:   userID,
		Username: username,
	}
}
