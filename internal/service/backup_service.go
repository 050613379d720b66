package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"screentime/internal/archive"
	"screentime/internal/models"
	"screentime/internal/repository"
)

// BackupData represents the complete export structure
type BackupData struct {
	Version      string         `json:"version"`
	ExportedAt   time.Time      `json:"exported_at"`
	DatabaseType string         `json:"database_type"`
	Families     []FamilyBackup `json:"families"`
}

// FamilyBackup holds one family and everything it owns
type FamilyBackup struct {
	ID         string                     `json:"id"`
	Name       string                     `json:"name"`
	OwnerID    string                     `json:"owner_user_id"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
	Members    []FamilyMemberBackup       `json:"members"`
	Children   []models.ChildProfile      `json:"children"`
	Apps       []models.AppCategorization `json:"app_categorizations"`
	Settings   map[string]string          `json:"settings"`
	Activities []models.ParentActivity    `json:"activities"`
	Conflicts  []models.ConflictMetadata  `json:"open_conflicts"`
}

// FamilyMemberBackup represents a family member record
type FamilyMemberBackup struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// BackupService exports the coordination data as JSON
type BackupService struct {
	store        *repository.Store
	databaseType string
	logger       *zap.Logger
	now          func() time.Time
}

// NewBackupService creates a new backup service
func NewBackupService(store *repository.Store, databaseType string, logger *zap.Logger) *BackupService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackupService{
		store:        store,
		databaseType: databaseType,
		logger:       logger.Named("backup"),
		now:          time.Now,
	}
}

// Build collects the backup in memory
func (s *BackupService) Build(ctx context.Context) (*BackupData, error) {
	backup := &BackupData{
		Version:      "1.0",
		ExportedAt:   s.now().UTC(),
		DatabaseType: s.databaseType,
	}

	ids, err := s.store.Families.ListFamilyIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export families: %w", err)
	}
	for _, id := range ids {
		family, err := s.exportFamily(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to export family %s: %w", id, err)
		}
		if family != nil {
			backup.Families = append(backup.Families, *family)
		}
	}
	return backup, nil
}

// Export writes a complete backup to a file
func (s *BackupService) Export(ctx context.Context, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if err := s.ExportToWriter(ctx, file); err != nil {
		return err
	}
	s.logger.Info("database exported", zap.String("path", outputPath))
	return nil
}

// ExportToWriter exports to an io.Writer (useful for HTTP responses)
func (s *BackupService) ExportToWriter(ctx context.Context, w io.Writer) error {
	backup, err := s.Build(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	s.logSummary(backup)
	return nil
}

// ExportToArchive stores the backup as one JSON object and returns its key
func (s *BackupService) ExportToArchive(ctx context.Context, store archive.Store) (string, error) {
	backup, err := s.Build(ctx)
	if err != nil {
		return "", err
	}
	key := archive.BackupKey(backup.ExportedAt)
	if err := store.PutJSON(ctx, key, backup); err != nil {
		return "", fmt.Errorf("failed to archive backup: %w", err)
	}
	s.logSummary(backup)
	return key, nil
}

func (s *BackupService) exportFamily(ctx context.Context, familyID string) (*FamilyBackup, error) {
	family, err := s.store.Families.FetchFamily(ctx, familyID)
	if err != nil || family == nil {
		return nil, err
	}
	out := &FamilyBackup{
		ID:        family.ID,
		Name:      family.Name,
		OwnerID:   family.OwnerUserID,
		CreatedAt: family.CreatedAt,
		UpdatedAt: family.UpdatedAt,
	}

	members, err := s.store.Families.FetchMembers(ctx, familyID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		out.Members = append(out.Members, FamilyMemberBackup{UserID: m.UserID, Role: string(m.Role), JoinedAt: m.JoinedAt})
	}

	if out.Children, err = s.store.Children.FetchChildren(ctx, familyID, 0); err != nil {
		return nil, err
	}
	if out.Apps, err = s.store.Apps.FetchAppCategorizations(ctx, familyID, "", 0); err != nil {
		return nil, err
	}
	settings, err := s.store.Settings.FetchFamilySettings(ctx, familyID)
	if err != nil {
		return nil, err
	}
	out.Settings = settings.Values
	if out.Activities, err = s.store.Activities.FetchActivities(ctx, repository.ActivityQuery{FamilyID: familyID}); err != nil {
		return nil, err
	}
	if out.Conflicts, err = s.store.Conflicts.ListOpenConflicts(ctx, familyID); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BackupService) logSummary(backup *BackupData) {
	var children, activities, conflicts int
	for _, f := range backup.Families {
		children += len(f.Children)
		activities += len(f.Activities)
		conflicts += len(f.Conflicts)
	}
	s.logger.Info("backup exported",
		zap.Int("families", len(backup.Families)),
		zap.Int("children", children),
		zap.Int("activities", activities),
		zap.Int("open_conflicts", conflicts))
}
