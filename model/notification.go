package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Notification types recorded in the notification outbox.
const (
	NotificationTypeReply    = "reply"
	NotificationTypeMention  = "mention"
	NotificationTypeReaction = "reaction"
	NotificationTypeQuote    = "quote"
)

// NotificationOutboxEntry is a row of the notification outbox.
type NotificationOutboxEntry struct {
	ID               int64      `json:"id"`
	CreatedAt        time.Time  `json:"created_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
	NotificationUID  string     `json:"notification_uid"`
	Type             string     `json:"notification_type"`
	AuthorAddress    string     `json:"author_address"`
	RecipientAddress string     `json:"recipient_address"`
	ParentID         *string    `json:"parent_id,omitempty"`
	EntityID         string     `json:"entity_id"`
	AppSigner        string     `json:"app_signer"`
}

// Validate checks that the entry can be recorded.
func (n NotificationOutboxEntry) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.NotificationUID, validation.Required),
		validation.Field(&n.Type, validation.Required, validation.In(
			NotificationTypeReply, NotificationTypeMention, NotificationTypeReaction, NotificationTypeQuote,
		)),
		validation.Field(&n.AuthorAddress, validation.Required),
		validation.Field(&n.RecipientAddress, validation.Required),
		validation.Field(&n.EntityID, validation.Required),
		validation.Field(&n.AppSigner, validation.Required),
	)
}

// AppNotification is a notification copied into one app's feed.
type AppNotification struct {
	ID             int64      `json:"id"`
	NotificationID int64      `json:"notification_id"`
	AppID          string     `json:"app_id"`
	CreatedAt      time.Time  `json:"created_at"`
	SeenAt         *time.Time `json:"seen_at,omitempty"`
}
