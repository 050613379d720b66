package models

import "time"

// ActivityType enumerates family-visible mutations.
type ActivityType string

const (
	ActivityAppCategorizationAdded    ActivityType = "appCategorizationAdded"
	ActivityAppCategorizationModified ActivityType = "appCategorizationModified"
	ActivityAppCategorizationRemoved  ActivityType = "appCategorizationRemoved"
	ActivityPointsAdjusted            ActivityType = "pointsAdjusted"
	ActivityRewardRedeemed            ActivityType = "rewardRedeemed"
	ActivitySettingsUpdated           ActivityType = "settingsUpdated"
	ActivityChildProfileAdded         ActivityType = "childProfileAdded"
	ActivityChildProfileModified      ActivityType = "childProfileModified"
	ActivityChildProfileRemoved       ActivityType = "childProfileRemoved"
	ActivityMemberRoleChanged         ActivityType = "memberRoleChanged"
	ActivityMemberRemoved             ActivityType = "memberRemoved"
	ActivityConflictDetected          ActivityType = "conflictDetected"
	ActivityConflictResolved          ActivityType = "conflictResolved"
)

// ActivityChange is one key/value entry of an activity's change list.
type ActivityChange struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ActivityChanges is an ordered key/value list.
type ActivityChanges []ActivityChange

// Get returns the value for key.
func (c ActivityChanges) Get(key string) (string, bool) {
	for _, ch := range c {
		if ch.Key == key {
			return ch.Value, true
		}
	}
	return "", false
}

// Set replaces the value for key or appends it.
func (c ActivityChanges) Set(key, value string) ActivityChanges {
	for i := range c {
		if c[i].Key == key {
			c[i].Value = value
			return c
		}
	}
	return append(c, ActivityChange{Key: key, Value: value})
}

// ParentActivity is an immutable audit entry for a permitted mutation.
type ParentActivity struct {
	ID               string          `json:"id"`
	FamilyID         string          `json:"familyId"`
	TriggeringUserID string          `json:"triggeringUserId"`
	ActivityType     ActivityType    `json:"activityType"`
	TargetEntity     string          `json:"targetEntity"`
	TargetEntityID   string          `json:"targetEntityId"`
	Changes          ActivityChanges `json:"changes"`
	Timestamp        time.Time       `json:"timestamp"`
	DeviceID         string          `json:"deviceId"`
}

// DateRange is a half-open interval [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}
