package models

import (
	"strconv"
	"time"
)

// AppCategory decides whether time in an app earns or spends points.
type AppCategory string

const (
	CategoryLearning AppCategory = "learning"
	CategoryReward   AppCategory = "reward"
)

// App categorization field names.
const (
	FieldDisplayName = "displayName"
	FieldCategory    = "category"
)

// AppCategorization assigns an app to a category for one child.
type AppCategorization struct {
	ID            string
	FamilyID      string
	ChildID       string
	BundleID      string
	DisplayName   string
	Category      AppCategory
	PointsPerHour int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	UpdatedBy     string
}

func (a *AppCategorization) Fields() map[string]string {
	return map[string]string{
		FieldDisplayName:   a.DisplayName,
		FieldCategory:      string(a.Category),
		FieldPointsPerHour: strconv.Itoa(a.PointsPerHour),
	}
}

func (a *AppCategorization) SetField(name, value string) (bool, error) {
	switch name {
	case FieldDisplayName:
		a.DisplayName = value
	case FieldCategory:
		a.Category = AppCategory(value)
	case FieldPointsPerHour:
		n, err := strconv.Atoi(value)
		if err != nil {
			return true, err
		}
		a.PointsPerHour = n
	default:
		return false, nil
	}
	return true, nil
}
