package models

import "time"

// ChangeType classifies one party's edit.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ResolutionStrategy selects how a conflict is settled when field merge fails.
type ResolutionStrategy string

const (
	StrategyLastWriteWins   ResolutionStrategy = "automaticLastWriteWins"
	StrategyManualSelection ResolutionStrategy = "manualSelection"
)

// FieldChange is a single field edit. A nil OldValue means the field was
// newly populated; a nil NewValue means it was cleared.
type FieldChange struct {
	FieldName string  `json:"fieldName"`
	OldValue  *string `json:"oldValue,omitempty"`
	NewValue  *string `json:"newValue,omitempty"`
}

// StringPtr is a helper for building FieldChange values.
func StringPtr(s string) *string {
	return &s
}

// NewValueString returns the new value or "" when cleared.
func (f FieldChange) NewValueString() string {
	if f.NewValue == nil {
		return ""
	}
	return *f.NewValue
}

// SameNewValue reports whether two field changes set the same value.
func (f FieldChange) SameNewValue(other FieldChange) bool {
	if f.NewValue == nil || other.NewValue == nil {
		return f.NewValue == nil && other.NewValue == nil
	}
	return *f.NewValue == *other.NewValue
}

// ConflictChange is one party's version of a concurrent edit.
type ConflictChange struct {
	UserID       string        `json:"userId"`
	ChangeType   ChangeType    `json:"changeType"`
	FieldChanges []FieldChange `json:"fieldChanges"`
	Timestamp    time.Time     `json:"timestamp"`
	DeviceID     string        `json:"deviceId"`
}

// RecordKey identifies a shared record across devices.
type RecordKey struct {
	FamilyID   string
	RecordType string
	RecordID   string
}

func (k RecordKey) String() string {
	return k.FamilyID + "/" + k.RecordType + "/" + k.RecordID
}

// ConflictMetadata describes an open conflict on one record.
type ConflictMetadata struct {
	ID                 string             `json:"id"`
	FamilyID           string             `json:"familyId"`
	RecordType         string             `json:"recordType"`
	RecordID           string             `json:"recordId"`
	Changes            []ConflictChange   `json:"changes"`
	ResolutionStrategy ResolutionStrategy `json:"resolutionStrategy"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
	DetectedAt         time.Time          `json:"detectedAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

// Key returns the record key the conflict is attached to.
func (c *ConflictMetadata) Key() RecordKey {
	return RecordKey{FamilyID: c.FamilyID, RecordType: c.RecordType, RecordID: c.RecordID}
}

// ConflictState is a record's position in the conflict lifecycle.
type ConflictState string

const (
	StateClean                   ConflictState = "clean"
	StateConflictDetected        ConflictState = "conflictDetected"
	StateAutoResolved            ConflictState = "autoResolved"
	StateMerged                  ConflictState = "merged"
	StatePendingManualResolution ConflictState = "pendingManualResolution"
)
