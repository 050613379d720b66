package repository

import "screentime/internal/database"

// Store bundles the SQL repositories behind one connection.
type Store struct {
	Families   *FamilyRepository
	Children   *ChildRepository
	Apps       *AppCategorizationRepository
	Settings   *SettingsRepository
	Users      *UserRepository
	Activities *ActivityRepository
	Conflicts  *ConflictRepository
}

// NewStore wires every repository to db.
func NewStore(db *database.DB) *Store {
	return &Store{
		Families:   NewFamilyRepository(db),
		Children:   NewChildRepository(db),
		Apps:       NewAppCategorizationRepository(db),
		Settings:   NewSettingsRepository(db),
		Users:      NewUserRepository(db),
		Activities: NewActivityRepository(db),
		Conflicts:  NewConflictRepository(db),
	}
}
