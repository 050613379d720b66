package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"screentime/internal/activity"
	"screentime/internal/models"
	"screentime/internal/validation"
)

var (
	ErrInsufficientPoints = errors.New("not enough points for this reward")
	ErrInvalidPoints      = errors.New("points must be positive")
)

const defaultAvatarColor = "#4A90E2"

// FamilyService is the feature layer: every operation goes through the
// permission-aware repository and is then recorded in the activity log.
type FamilyService struct {
	repo     *PermissionAwareRepository
	activity *activity.Log
}

// NewFamilyService creates a new family service
func NewFamilyService(repo *PermissionAwareRepository, log *activity.Log) *FamilyService {
	return &FamilyService{
		repo:     repo,
		activity: log,
	}
}

// Repository exposes the underlying permission-aware repository for reads.
func (s *FamilyService) Repository() *PermissionAwareRepository {
	return s.repo
}

// CreateFamily creates a new family owned by the user
func (s *FamilyService) CreateFamily(ctx context.Context, userID, name string) (*models.Family, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	family, err := s.repo.CreateFamily(ctx, userID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create family: %w", err)
	}
	return family, nil
}

// AddChild creates a child profile in the family
func (s *FamilyService) AddChild(ctx context.Context, userID, familyID, name, avatarColor string, pointsPerHour int) (*models.ChildProfile, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if avatarColor == "" {
		avatarColor = defaultAvatarColor
	}
	if err := validation.ValidateColor(avatarColor); err != nil {
		return nil, err
	}
	child := &models.ChildProfile{
		FamilyID:      familyID,
		Name:          name,
		AvatarColor:   avatarColor,
		PointsPerHour: pointsPerHour,
	}
	if err := s.repo.CreateChild(ctx, userID, child); err != nil {
		return nil, err
	}

	var changes models.ActivityChanges
	changes = changes.Set(activity.KeyChildName, child.Name)
	s.record(ctx, familyID, userID, models.ActivityChildProfileAdded, models.RecordTypeChildProfile, child.ID, changes)
	return child, nil
}

// RenameChild changes a child's display name
func (s *FamilyService) RenameChild(ctx context.Context, userID, familyID, childID, name string) (*models.ChildProfile, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	child, err := s.repo.FetchChild(ctx, userID, familyID, childID)
	if err != nil {
		return nil, err
	}
	child.Name = name
	if err := s.repo.UpdateChild(ctx, userID, child); err != nil {
		return nil, err
	}

	var changes models.ActivityChanges
	changes = changes.Set(activity.KeyChildName, child.Name)
	s.record(ctx, familyID, userID, models.ActivityChildProfileModified, models.RecordTypeChildProfile, child.ID, changes)
	return child, nil
}

// RemoveChild deletes a child profile
func (s *FamilyService) RemoveChild(ctx context.Context, userID, familyID, childID string) error {
	child, err := s.repo.FetchChild(ctx, userID, familyID, childID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteChild(ctx, userID, familyID, childID); err != nil {
		return err
	}

	var changes models.ActivityChanges
	changes = changes.Set(activity.KeyChildName, child.Name)
	s.record(ctx, familyID, userID, models.ActivityChildProfileRemoved, models.RecordTypeChildProfile, child.ID, changes)
	return nil
}

// AdjustPoints adds delta (which may be negative) to a child's balance.
// The balance never goes below zero.
func (s *FamilyService) AdjustPoints(ctx context.Context, userID, familyID, childID string, delta int, reason string) (*models.ChildProfile, error) {
	child, err := s.repo.FetchChild(ctx, userID, familyID, childID)
	if err != nil {
		return nil, err
	}
	if child.PointBalance+delta < 0 {
		return nil, ErrInsufficientPoints
	}
	child.PointBalance += delta
	if err := s.repo.UpdateChild(ctx, userID, child); err != nil {
		return nil, err
	}

	if s.activity != nil {
		s.activity.RecordPointAdjustment(ctx, userID, child, delta, reason)
	}
	return child, nil
}

// RedeemReward spends points on a reward
func (s *FamilyService) RedeemReward(ctx context.Context, userID, familyID, childID, rewardName string, cost int) (*models.ChildProfile, error) {
	if cost <= 0 {
		return nil, ErrInvalidPoints
	}
	if rewardName == "" {
		return nil, ErrNameRequired
	}
	child, err := s.repo.FetchChild(ctx, userID, familyID, childID)
	if err != nil {
		return nil, err
	}
	if child.PointBalance < cost {
		return nil, ErrInsufficientPoints
	}
	child.PointBalance -= cost
	if err := s.repo.UpdateChild(ctx, userID, child); err != nil {
		return nil, err
	}

	if s.activity != nil {
		s.activity.RecordRewardRedemption(ctx, userID, child, rewardName, cost)
	}
	return child, nil
}

// CategorizeApp creates or updates an app categorization for a child
func (s *FamilyService) CategorizeApp(ctx context.Context, userID string, app *models.AppCategorization) (*models.AppCategorization, error) {
	if err := validation.ValidateBundleID(app.BundleID); err != nil {
		return nil, err
	}
	child, err := s.repo.FetchChild(ctx, userID, app.FamilyID, app.ChildID)
	if err != nil {
		return nil, err
	}

	activityType := models.ActivityAppCategorizationAdded
	if app.ID != "" {
		existing, err := s.repo.FetchAppCategorization(ctx, userID, app.FamilyID, app.ID)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return nil, err
		}
		if existing != nil {
			activityType = models.ActivityAppCategorizationModified
		}
	}

	if err := s.repo.SaveAppCategorization(ctx, userID, app); err != nil {
		return nil, err
	}
	if s.activity != nil {
		s.activity.RecordAppCategorizationChange(ctx, userID, activityType, app, child.Name)
	}
	return app, nil
}

// UncategorizeApp removes an app categorization
func (s *FamilyService) UncategorizeApp(ctx context.Context, userID, familyID, appID string) error {
	app, err := s.repo.FetchAppCategorization(ctx, userID, familyID, appID)
	if err != nil {
		return err
	}
	child, err := s.repo.FetchChild(ctx, userID, familyID, app.ChildID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return err
	}
	if err := s.repo.DeleteAppCategorization(ctx, userID, familyID, appID); err != nil {
		return err
	}

	childName := ""
	if child != nil {
		childName = child.Name
	}
	if s.activity != nil {
		s.activity.RecordAppCategorizationChange(ctx, userID, models.ActivityAppCategorizationRemoved, app, childName)
	}
	return nil
}

// UpdateSettings merges values into the family settings
func (s *FamilyService) UpdateSettings(ctx context.Context, userID, familyID string, values map[string]string) error {
	if err := s.repo.UpdateFamilySettings(ctx, userID, familyID, values); err != nil {
		return err
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var changes models.ActivityChanges
	for _, k := range keys {
		changes = changes.Set(k, values[k])
	}
	s.record(ctx, familyID, userID, models.ActivitySettingsUpdated, models.RecordTypeFamilySettings, familyID, changes)
	return nil
}

// AssignRole gives another user a role in the family. Owner only.
func (s *FamilyService) AssignRole(ctx context.Context, userID, familyID, targetUserID string, role models.Role) error {
	if err := s.repo.AssignUserRole(ctx, userID, familyID, targetUserID, role); err != nil {
		return err
	}

	var changes models.ActivityChanges
	changes = changes.Set(KeyUserID, targetUserID)
	changes = changes.Set(KeyRole, string(role))
	s.record(ctx, familyID, userID, models.ActivityMemberRoleChanged, models.RecordTypeFamily, familyID, changes)
	return nil
}

// RemoveMember takes a user out of the family. Owner only.
func (s *FamilyService) RemoveMember(ctx context.Context, userID, familyID, targetUserID string) error {
	if err := s.repo.RemoveUser(ctx, userID, familyID, targetUserID); err != nil {
		return err
	}

	var changes models.ActivityChanges
	changes = changes.Set(KeyUserID, targetUserID)
	s.record(ctx, familyID, userID, models.ActivityMemberRemoved, models.RecordTypeFamily, familyID, changes)
	return nil
}

func (s *FamilyService) record(ctx context.Context, familyID, userID string, activityType models.ActivityType,
	targetEntity, targetEntityID string, changes models.ActivityChanges) {
	if s.activity == nil {
		return
	}
	s.activity.LogActivityBestEffort(ctx, familyID, userID, activityType, targetEntity, targetEntityID, changes)
}

// checkName keeps ErrNameRequired for blank names and defers the rest to
// validation.
func checkName(name string) error {
	if name == "" {
		return ErrNameRequired
	}
	return validation.ValidateName(name)
}
