package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"screentime/internal/activity"
	"screentime/internal/changefeed"
	"screentime/internal/conflict"
	"screentime/internal/metrics"
	"screentime/internal/models"
	"screentime/internal/permission"
	"screentime/internal/repository"
)

// Activity change keys written for conflict events.
const (
	KeyRecordType = "recordType"
	KeyRecordID   = "recordId"
	KeyConflictID = "conflictId"
	KeyResolution = "resolution"
	KeyChoice     = "choice"
	KeyUserID     = "userId"
	KeyRole       = "role"
)

const roleFieldPrefix = "role:"

// ConflictNotifier alerts parents about conflicts that need a decision.
type ConflictNotifier interface {
	SendConflictNotification(ctx context.Context, recipients []models.User, familyName string, conflict *models.ConflictMetadata) error
}

// CoordinatorDeps wires a Coordinator. Feed, Notifier, Metrics and Logger
// are optional.
type CoordinatorDeps struct {
	Store       RecordStore
	Permissions *permission.Service
	Detector    *conflict.Detector
	Resolver    *conflict.Resolver
	Activity    *activity.Log
	Feed        changefeed.Feed
	Notifier    ConflictNotifier
	Strategy    models.ResolutionStrategy
	DeviceID    string
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Coordinator runs the conflict pipeline: it remembers local writes, checks
// incoming changes against them, and resolves, applies or parks conflicts.
type Coordinator struct {
	store    RecordStore
	perms    *permission.Service
	detector *conflict.Detector
	resolver *conflict.Resolver
	activity *activity.Log
	feed     changefeed.Feed
	notifier ConflictNotifier
	strategy models.ResolutionStrategy
	deviceID string
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	recent map[models.RecordKey]models.ConflictChange
}

// NewCoordinator creates a coordinator.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	strategy := deps.Strategy
	if strategy == "" {
		strategy = models.StrategyManualSelection
	}
	return &Coordinator{
		store:    deps.Store,
		perms:    deps.Permissions,
		detector: deps.Detector,
		resolver: deps.Resolver,
		activity: deps.Activity,
		feed:     deps.Feed,
		notifier: deps.Notifier,
		strategy: strategy,
		deviceID: deps.DeviceID,
		metrics:  deps.Metrics,
		logger:   logger.Named("coordinator"),
		now:      time.Now,
		recent:   make(map[models.RecordKey]models.ConflictChange),
	}
}

// DeviceID is the identity stamped on changes written through this coordinator.
func (c *Coordinator) DeviceID() string {
	return c.deviceID
}

// ObserveWrite records a local write for conflict detection and announces it
// to the other devices of the family.
func (c *Coordinator) ObserveWrite(ctx context.Context, event WriteEvent) error {
	change := models.ConflictChange{
		UserID:       event.UserID,
		ChangeType:   event.ChangeType,
		FieldChanges: event.FieldChanges,
		Timestamp:    event.Timestamp,
		DeviceID:     c.deviceID,
	}
	c.detector.RecordModification(event.Key, event.Timestamp)
	c.remember(event.Key, change)

	if c.feed == nil {
		return nil
	}
	err := c.feed.Publish(ctx, changefeed.Notification{
		FamilyID:     event.Key.FamilyID,
		RecordType:   event.Key.RecordType,
		RecordID:     event.Key.RecordID,
		ChangeType:   event.ChangeType,
		UserID:       event.UserID,
		DeviceID:     c.deviceID,
		Timestamp:    event.Timestamp,
		FieldChanges: event.FieldChanges,
	})
	if err != nil {
		return fmt.Errorf("failed to publish change: %w", err)
	}
	c.metrics.RecordFeedNotification("out")
	return nil
}

// HandleRemoteChange runs an incoming change through detection and
// resolution. Activity notifications are not record changes and are reported
// clean.
func (c *Coordinator) HandleRemoteChange(ctx context.Context, n changefeed.Notification) (models.ConflictState, error) {
	if n.RecordType == models.RecordTypeParentActivity {
		return models.StateClean, nil
	}
	c.metrics.RecordFeedNotification("in")

	key := n.Key()
	remote := n.Change()

	open, err := c.resolver.OpenConflict(ctx, key)
	if err != nil {
		return "", err
	}
	if open != nil {
		pending := &models.ConflictMetadata{
			FamilyID:           key.FamilyID,
			RecordType:         key.RecordType,
			RecordID:           key.RecordID,
			Changes:            []models.ConflictChange{remote},
			ResolutionStrategy: models.StrategyManualSelection,
		}
		if err := c.resolver.StoreConflictMetadata(ctx, pending); err != nil {
			return "", err
		}
		c.detector.RecordModification(key, remote.Timestamp)
		return models.StatePendingManualResolution, nil
	}

	if !c.detector.DetectConflict(n.RecordID, n.RecordType, n.FamilyID, n.Timestamp) {
		c.detector.RecordModification(key, remote.Timestamp)
		c.remember(key, remote)
		return models.StateClean, nil
	}

	changes := []models.ConflictChange{remote}
	if local, ok := c.lastChange(key); ok {
		changes = []models.ConflictChange{local, remote}
	}
	metadata := &models.ConflictMetadata{
		FamilyID:           key.FamilyID,
		RecordType:         key.RecordType,
		RecordID:           key.RecordID,
		ResolutionStrategy: c.strategy,
	}
	res, err := c.resolver.Resolve(ctx, metadata, changes)
	if err != nil {
		return "", err
	}

	switch res.State {
	case models.StateMerged, models.StateAutoResolved:
		if err := c.apply(ctx, key, res.Change); err != nil {
			return "", err
		}
		c.logConflictActivity(ctx, models.ActivityConflictResolved, res.Change.UserID, res.Conflict,
			KeyResolution, string(res.State))
	case models.StatePendingManualResolution:
		c.detector.RecordModification(key, remote.Timestamp)
		c.alert(ctx, res.Conflict)
		c.logConflictActivity(ctx, models.ActivityConflictDetected, remote.UserID, res.Conflict,
			KeyConflictID, res.Conflict.ID)
	}
	return res.State, nil
}

// OpenConflicts lists the family's conflicts awaiting a decision.
func (c *Coordinator) OpenConflicts(ctx context.Context, userID, familyID string) ([]models.ConflictMetadata, error) {
	if _, err := c.perms.Authorize(ctx, permission.Check{UserID: userID, FamilyID: familyID, Action: models.ActionView}); err != nil {
		return nil, err
	}
	return c.resolver.OpenConflicts(ctx, familyID)
}

// ResolveConflict applies the change a parent picked and closes the
// conflict. It needs edit permission.
func (c *Coordinator) ResolveConflict(ctx context.Context, userID, familyID, conflictID string, choice int) (*conflict.Resolution, error) {
	if _, err := c.perms.Authorize(ctx, permission.Check{UserID: userID, FamilyID: familyID, Action: models.ActionEdit}); err != nil {
		return nil, err
	}
	existing, err := c.resolver.Conflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if existing.FamilyID != familyID {
		return nil, conflict.ErrConflictNotFound
	}
	if choice < 0 || choice >= len(existing.Changes) {
		return nil, conflict.ErrInvalidChoice
	}

	chosen := existing.Changes[choice]
	if err := c.apply(ctx, existing.Key(), &chosen); err != nil {
		return nil, err
	}
	res, err := c.resolver.ResolveManually(ctx, conflictID, choice, userID)
	if err != nil {
		return nil, err
	}
	c.logConflictActivity(ctx, models.ActivityConflictResolved, userID, res.Conflict,
		KeyResolution, string(models.StrategyManualSelection), KeyChoice, strconv.Itoa(choice))
	return res, nil
}

func (c *Coordinator) remember(key models.RecordKey, change models.ConflictChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.recent[key]; ok && prev.Timestamp.After(change.Timestamp) {
		return
	}
	c.recent[key] = change
}

func (c *Coordinator) lastChange(key models.RecordKey) (models.ConflictChange, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	change, ok := c.recent[key]
	return change, ok
}

func (c *Coordinator) forget(key models.RecordKey) {
	c.mu.Lock()
	delete(c.recent, key)
	c.mu.Unlock()
	c.detector.Forget(key)
}

// apply writes a resolved change to the record store. Changes to a record
// that no longer exists are dropped.
func (c *Coordinator) apply(ctx context.Context, key models.RecordKey, change *models.ConflictChange) error {
	if change == nil {
		return nil
	}
	at := c.now().UTC()
	var err error
	switch key.RecordType {
	case models.RecordTypeChildProfile:
		err = c.applyChild(ctx, key, change, at)
	case models.RecordTypeAppCategorization:
		err = c.applyApp(ctx, key, change, at)
	case models.RecordTypeFamilySettings:
		err = c.applySettings(ctx, key, change, at)
	case models.RecordTypeFamily:
		err = c.applyFamily(ctx, key, change)
	default:
		c.logger.Warn("no writer for record type", zap.String("record", key.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply resolved change: %w", err)
	}

	if change.ChangeType == models.ChangeDelete {
		c.forget(key)
		return nil
	}
	// the write is stamped at, so change detection must not report it back
	c.detector.RecordModification(key, at)
	c.remember(key, *change)
	return nil
}

func (c *Coordinator) applyChild(ctx context.Context, key models.RecordKey, change *models.ConflictChange, at time.Time) error {
	if change.ChangeType == models.ChangeDelete {
		return ignoreNotFound(c.store.Children.DeleteChild(ctx, key.RecordID))
	}
	child, err := c.store.Children.FetchChild(ctx, key.RecordID)
	if err != nil {
		return err
	}
	create := child == nil
	if create {
		if change.ChangeType != models.ChangeCreate {
			c.logger.Info("resolved change targets a deleted record", zap.String("record", key.String()))
			return nil
		}
		child = &models.ChildProfile{ID: key.RecordID, FamilyID: key.FamilyID}
	}
	for _, fc := range change.FieldChanges {
		if _, err := child.SetField(fc.FieldName, fc.NewValueString()); err != nil {
			return fmt.Errorf("field %s: %w", fc.FieldName, err)
		}
	}
	child.UpdatedBy = change.UserID
	child.UpdatedAt = at
	if create {
		return c.store.Children.CreateChild(ctx, child)
	}
	return c.store.Children.UpdateChild(ctx, child)
}

func (c *Coordinator) applyApp(ctx context.Context, key models.RecordKey, change *models.ConflictChange, at time.Time) error {
	if change.ChangeType == models.ChangeDelete {
		return ignoreNotFound(c.store.Apps.DeleteAppCategorization(ctx, key.RecordID))
	}
	app, err := c.store.Apps.FetchAppCategorization(ctx, key.RecordID)
	if err != nil {
		return err
	}
	if app == nil {
		// a categorization cannot be recreated without its child and bundle
		c.logger.Info("resolved change targets a missing app categorization", zap.String("record", key.String()))
		return nil
	}
	for _, fc := range change.FieldChanges {
		if _, err := app.SetField(fc.FieldName, fc.NewValueString()); err != nil {
			return fmt.Errorf("field %s: %w", fc.FieldName, err)
		}
	}
	app.UpdatedBy = change.UserID
	app.UpdatedAt = at
	return c.store.Apps.SaveAppCategorization(ctx, app)
}

func (c *Coordinator) applySettings(ctx context.Context, key models.RecordKey, change *models.ConflictChange, at time.Time) error {
	if change.ChangeType == models.ChangeDelete || len(change.FieldChanges) == 0 {
		return nil
	}
	values := make(map[string]string, len(change.FieldChanges))
	for _, fc := range change.FieldChanges {
		values[fc.FieldName] = fc.NewValueString()
	}
	return c.store.Settings.UpdateFamilySettings(ctx, key.FamilyID, values, change.UserID, at)
}

func (c *Coordinator) applyFamily(ctx context.Context, key models.RecordKey, change *models.ConflictChange) error {
	if change.ChangeType == models.ChangeDelete {
		return ignoreNotFound(c.store.Families.DeleteFamily(ctx, key.FamilyID))
	}
	for _, fc := range change.FieldChanges {
		userID, ok := strings.CutPrefix(fc.FieldName, roleFieldPrefix)
		if !ok {
			continue
		}
		if fc.NewValue == nil {
			if err := ignoreNotFound(c.store.Families.RemoveMember(ctx, key.FamilyID, userID)); err != nil {
				return err
			}
			continue
		}
		role, ok := models.ParseRole(*fc.NewValue)
		if !ok || role == models.RoleOwner {
			return ErrInvalidRole
		}
		if err := c.store.Families.SetMemberRole(ctx, key.FamilyID, userID, role); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) alert(ctx context.Context, metadata *models.ConflictMetadata) {
	if c.notifier == nil {
		return
	}
	family, err := c.store.Families.FetchFamily(ctx, metadata.FamilyID)
	if err != nil || family == nil {
		c.logger.Warn("cannot alert parents: family unavailable", zap.String("family_id", metadata.FamilyID), zap.Error(err))
		return
	}
	users, err := c.store.Users.GetUsersByIDs(ctx, family.MemberIDs())
	if err != nil {
		c.logger.Warn("cannot alert parents: users unavailable", zap.String("family_id", family.ID), zap.Error(err))
		return
	}
	if err := c.notifier.SendConflictNotification(ctx, users, family.Name, metadata); err != nil {
		c.logger.Warn("conflict alert failed", zap.String("conflict_id", metadata.ID), zap.Error(err))
	}
}

func (c *Coordinator) logConflictActivity(ctx context.Context, activityType models.ActivityType, userID string,
	metadata *models.ConflictMetadata, extra ...string) {
	if c.activity == nil || metadata == nil {
		return
	}
	var changes models.ActivityChanges
	changes = changes.Set(KeyRecordType, metadata.RecordType)
	changes = changes.Set(KeyRecordID, metadata.RecordID)
	for i := 0; i+1 < len(extra); i += 2 {
		changes = changes.Set(extra[i], extra[i+1])
	}
	c.activity.LogActivityBestEffort(ctx, metadata.FamilyID, userID, activityType,
		metadata.RecordType, metadata.RecordID, changes)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}
