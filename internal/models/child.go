package models

import (
	"strconv"
	"time"
)

// Record type names used as conflict-detection keys and change-feed tags.
const (
	RecordTypeFamily            = "Family"
	RecordTypeChildProfile      = "ChildProfile"
	RecordTypeAppCategorization = "AppCategorization"
	RecordTypeFamilySettings    = "FamilySettings"
	RecordTypeParentActivity    = "ParentActivity"
)

// Child profile field names.
const (
	FieldName          = "name"
	FieldAvatarColor   = "avatarColor"
	FieldPointsPerHour = "pointsPerHour"
	FieldPointBalance  = "points"
)

// ChildProfile represents a child in the family
type ChildProfile struct {
	ID            string
	FamilyID      string
	Name          string
	AvatarColor   string
	PointsPerHour int
	PointBalance  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	UpdatedBy     string
}

// Fields returns the mergeable fields of the profile.
func (c *ChildProfile) Fields() map[string]string {
	return map[string]string{
		FieldName:          c.Name,
		FieldAvatarColor:   c.AvatarColor,
		FieldPointsPerHour: strconv.Itoa(c.PointsPerHour),
		FieldPointBalance:  strconv.Itoa(c.PointBalance),
	}
}

// SetField applies a single field value. Unknown fields are ignored and
// reported with ok == false.
func (c *ChildProfile) SetField(name, value string) (ok bool, err error) {
	switch name {
	case FieldName:
		c.Name = value
	case FieldAvatarColor:
		c.AvatarColor = value
	case FieldPointsPerHour:
		n, err := strconv.Atoi(value)
		if err != nil {
			return true, err
		}
		c.PointsPerHour = n
	case FieldPointBalance:
		n, err := strconv.Atoi(value)
		if err != nil {
			return true, err
		}
		c.PointBalance = n
	default:
		return false, nil
	}
	return true, nil
}
