package service

import (
	"context"
	"time"

	"screentime/internal/models"
	"screentime/internal/repository"
)

// FamilyStore persists families and their memberships.
type FamilyStore interface {
	CreateFamily(ctx context.Context, family *models.Family) error
	FetchFamily(ctx context.Context, familyID string) (*models.Family, error)
	FetchFamiliesForUser(ctx context.Context, userID string) ([]models.Family, error)
	SetMemberRole(ctx context.Context, familyID, userID string, role models.Role) error
	RemoveMember(ctx context.Context, familyID, userID string) error
	DeleteFamily(ctx context.Context, familyID string) error
}

// ChildStore persists child profiles.
type ChildStore interface {
	CreateChild(ctx context.Context, child *models.ChildProfile) error
	FetchChild(ctx context.Context, childID string) (*models.ChildProfile, error)
	FetchChildren(ctx context.Context, familyID string, limit int) ([]models.ChildProfile, error)
	UpdateChild(ctx context.Context, child *models.ChildProfile) error
	DeleteChild(ctx context.Context, childID string) error
}

// AppStore persists app categorizations.
type AppStore interface {
	SaveAppCategorization(ctx context.Context, app *models.AppCategorization) error
	FetchAppCategorization(ctx context.Context, id string) (*models.AppCategorization, error)
	FetchAppCategorizations(ctx context.Context, familyID, childID string, limit int) ([]models.AppCategorization, error)
	DeleteAppCategorization(ctx context.Context, id string) error
}

// SettingsStore persists per-family settings.
type SettingsStore interface {
	FetchFamilySettings(ctx context.Context, familyID string) (*models.FamilySettings, error)
	UpdateFamilySettings(ctx context.Context, familyID string, values map[string]string, updatedBy string, at time.Time) error
}

// UserDirectory looks up parent accounts for alerts.
type UserDirectory interface {
	GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
}

// RecordStore is the backend for every shared record. Fetches return nil
// without an error when the record does not exist. Deletes and membership
// removals of a missing record return repository.ErrNotFound.
type RecordStore struct {
	Families FamilyStore
	Children ChildStore
	Apps     AppStore
	Settings SettingsStore
	Users    UserDirectory
}

// NewRecordStore adapts the SQL repositories.
func NewRecordStore(store *repository.Store) RecordStore {
	return RecordStore{
		Families: store.Families,
		Children: store.Children,
		Apps:     store.Apps,
		Settings: store.Settings,
		Users:    store.Users,
	}
}
