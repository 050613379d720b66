package activity

import (
	"context"
	"fmt"
	"strconv"

	"screentime/internal/models"
)

// Change keys shared by the convenience loggers.
const (
	KeyChildName     = "childName"
	KeyPointsChange  = "pointsChange"
	KeyReason        = "reason"
	KeyAppName       = "appName"
	KeyCategory      = "category"
	KeyPointsPerHour = "pointsPerHour"
	KeyRewardName    = "rewardName"
	KeyPointsSpent   = "pointsSpent"
)

// LogAppCategorizationChange records an app being added, changed or removed.
func (l *Log) LogAppCategorizationChange(ctx context.Context, userID string, activityType models.ActivityType,
	app *models.AppCategorization, childName string) (*models.ParentActivity, error) {
	return l.LogActivity(ctx, app.FamilyID, userID, activityType, models.RecordTypeAppCategorization, app.ID,
		AppCategorizationChanges(childName, app))
}

// RecordAppCategorizationChange is the best-effort form of
// LogAppCategorizationChange.
func (l *Log) RecordAppCategorizationChange(ctx context.Context, userID string, activityType models.ActivityType,
	app *models.AppCategorization, childName string) *models.ParentActivity {
	return l.LogActivityBestEffort(ctx, app.FamilyID, userID, activityType, models.RecordTypeAppCategorization, app.ID,
		AppCategorizationChanges(childName, app))
}

// LogPointAdjustment records a manual point change. The delta is written
// with an explicit sign, e.g. "+10" or "-5".
func (l *Log) LogPointAdjustment(ctx context.Context, userID string, child *models.ChildProfile, delta int,
	reason string) (*models.ParentActivity, error) {
	return l.LogActivity(ctx, child.FamilyID, userID, models.ActivityPointsAdjusted,
		models.RecordTypeChildProfile, child.ID, PointAdjustmentChanges(child.Name, delta, reason))
}

// RecordPointAdjustment is the best-effort form of LogPointAdjustment.
func (l *Log) RecordPointAdjustment(ctx context.Context, userID string, child *models.ChildProfile, delta int,
	reason string) *models.ParentActivity {
	return l.LogActivityBestEffort(ctx, child.FamilyID, userID, models.ActivityPointsAdjusted,
		models.RecordTypeChildProfile, child.ID, PointAdjustmentChanges(child.Name, delta, reason))
}

// LogRewardRedemption records points being spent on a reward.
func (l *Log) LogRewardRedemption(ctx context.Context, userID string, child *models.ChildProfile, rewardName string,
	pointsSpent int) (*models.ParentActivity, error) {
	return l.LogActivity(ctx, child.FamilyID, userID, models.ActivityRewardRedeemed,
		models.RecordTypeChildProfile, child.ID, RewardRedemptionChanges(child.Name, rewardName, pointsSpent))
}

// RecordRewardRedemption is the best-effort form of LogRewardRedemption.
func (l *Log) RecordRewardRedemption(ctx context.Context, userID string, child *models.ChildProfile, rewardName string,
	pointsSpent int) *models.ParentActivity {
	return l.LogActivityBestEffort(ctx, child.FamilyID, userID, models.ActivityRewardRedeemed,
		models.RecordTypeChildProfile, child.ID, RewardRedemptionChanges(child.Name, rewardName, pointsSpent))
}

// AppCategorizationChanges builds the change list for an app categorization.
func AppCategorizationChanges(childName string, app *models.AppCategorization) models.ActivityChanges {
	var changes models.ActivityChanges
	changes = changes.Set(KeyChildName, childName)
	changes = changes.Set(KeyAppName, app.DisplayName)
	changes = changes.Set(KeyCategory, string(app.Category))
	changes = changes.Set(KeyPointsPerHour, strconv.Itoa(app.PointsPerHour))
	return changes
}

// PointAdjustmentChanges builds the change list for a point adjustment.
func PointAdjustmentChanges(childName string, delta int, reason string) models.ActivityChanges {
	var changes models.ActivityChanges
	changes = changes.Set(KeyChildName, childName)
	changes = changes.Set(KeyPointsChange, fmt.Sprintf("%+d", delta))
	if reason != "" {
		changes = changes.Set(KeyReason, reason)
	}
	return changes
}

// RewardRedemptionChanges builds the change list for a redemption.
func RewardRedemptionChanges(childName, rewardName string, pointsSpent int) models.ActivityChanges {
	var changes models.ActivityChanges
	changes = changes.Set(KeyChildName, childName)
	changes = changes.Set(KeyRewardName, rewardName)
	changes = changes.Set(KeyPointsSpent, strconv.Itoa(pointsSpent))
	return changes
}
