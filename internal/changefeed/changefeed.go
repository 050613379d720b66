// Package changefeed carries record-change notifications between parent
// devices of the same family.
package changefeed

import (
	"context"
	"errors"
	"time"

	"screentime/internal/models"
)

// ErrClosed is returned by a feed after Close.
var ErrClosed = errors.New("change feed closed")

// Notification announces a write to a shared record.
type Notification struct {
	FamilyID     string               `json:"familyId"`
	RecordType   string               `json:"recordType"`
	RecordID     string               `json:"recordId"`
	ChangeType   models.ChangeType    `json:"changeType"`
	UserID       string               `json:"userId"`
	DeviceID     string               `json:"deviceId"`
	Timestamp    time.Time            `json:"timestamp"`
	FieldChanges []models.FieldChange `json:"fieldChanges,omitempty"`
}

// Key returns the record the notification refers to.
func (n Notification) Key() models.RecordKey {
	return models.RecordKey{FamilyID: n.FamilyID, RecordType: n.RecordType, RecordID: n.RecordID}
}

// Change converts the notification into one party's version of an edit.
func (n Notification) Change() models.ConflictChange {
	return models.ConflictChange{
		UserID:       n.UserID,
		ChangeType:   n.ChangeType,
		FieldChanges: n.FieldChanges,
		Timestamp:    n.Timestamp,
		DeviceID:     n.DeviceID,
	}
}

// Origin identifies the writer a subscription should not hear back from.
// Empty fields match nothing.
type Origin struct {
	UserID   string
	DeviceID string
}

// Excludes reports whether n was written by the origin.
func (o Origin) Excludes(n Notification) bool {
	return (o.UserID != "" && n.UserID == o.UserID) || (o.DeviceID != "" && n.DeviceID == o.DeviceID)
}

// Feed publishes notifications and delivers them to family subscribers.
type Feed interface {
	Publish(ctx context.Context, n Notification) error
	// Subscribe delivers the family's notifications, minus those written by
	// exclude, until ctx is done.
	Subscribe(ctx context.Context, familyID string, exclude Origin) (<-chan Notification, error)
	Close() error
}

// Channel is the pub/sub channel name used for a family.
func Channel(familyID string) string {
	return "screentime:family:" + familyID + ":changes"
}
