package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screentime/internal/conflict"
	"screentime/internal/database"
	"screentime/internal/models"
	"screentime/migrations"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.RunMigrations(context.Background(), migrations.FS)
	require.NoError(t, err)
	return db
}

func createFamily(t *testing.T, store *Store) *models.Family {
	t.Helper()
	family := &models.Family{
		Name:        "Rivera",
		OwnerUserID: "alice",
		UserRoles:   map[string]models.Role{"bob": models.RoleCoParent, "carol": models.RoleViewer},
	}
	require.NoError(t, store.Families.CreateFamily(context.Background(), family))
	return family
}

func TestFamilyRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	family := createFamily(t, store)
	require.NotEmpty(t, family.ID)

	child := &models.ChildProfile{FamilyID: family.ID, Name: "Sam"}
	require.NoError(t, store.Children.CreateChild(ctx, child))

	got, err := store.Families.FetchFamily(ctx, family.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.OwnerUserID)
	assert.Equal(t, models.RoleCoParent, got.UserRoles["bob"])
	assert.Equal(t, models.RoleViewer, got.UserRoles["carol"])
	assert.ElementsMatch(t, []string{"bob", "carol"}, got.SharedWith)
	assert.Equal(t, []string{child.ID}, got.ChildProfileIDs)

	require.NoError(t, store.Families.SetMemberRole(ctx, family.ID, "carol", models.RoleCoParent))
	require.NoError(t, store.Families.SetMemberRole(ctx, family.ID, "dave", models.RoleViewer))
	require.NoError(t, store.Families.RemoveMember(ctx, family.ID, "bob"))
	assert.ErrorIs(t, store.Families.RemoveMember(ctx, family.ID, "bob"), ErrNotFound)

	got, err = store.Families.FetchFamily(ctx, family.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Role{"carol": models.RoleCoParent, "dave": models.RoleViewer}, got.UserRoles)

	families, err := store.Families.FetchFamiliesForUser(ctx, "dave")
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, family.ID, families[0].ID)

	ids, err := store.Families.ListFamilyIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{family.ID}, ids)

	require.NoError(t, store.Families.DeleteFamily(ctx, family.ID))
	got, err = store.Families.FetchFamily(ctx, family.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	left, err := store.Children.FetchChild(ctx, child.ID)
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestChildRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	family := createFamily(t, store)

	child := &models.ChildProfile{FamilyID: family.ID, Name: "Sam", AvatarColor: "#3b82f6", PointsPerHour: 10}
	require.NoError(t, store.Children.CreateChild(ctx, child))

	child.PointBalance = 40
	child.UpdatedBy = "bob"
	child.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.Children.UpdateChild(ctx, child))

	got, err := store.Children.FetchChild(ctx, child.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 40, got.PointBalance)
	assert.Equal(t, "bob", got.UpdatedBy)
	assert.WithinDuration(t, child.UpdatedAt, got.UpdatedAt, time.Millisecond)

	missing := &models.ChildProfile{ID: "nope"}
	assert.ErrorIs(t, store.Children.UpdateChild(ctx, missing), ErrNotFound)

	require.NoError(t, store.Children.CreateChild(ctx, &models.ChildProfile{FamilyID: family.ID, Name: "Ava"}))
	all, err := store.Children.FetchChildren(ctx, family.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	limited, err := store.Children.FetchChildren(ctx, family.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.Children.DeleteChild(ctx, child.ID))
	assert.ErrorIs(t, store.Children.DeleteChild(ctx, child.ID), ErrNotFound)
}

func TestAppCategorizationRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	family := createFamily(t, store)
	child := &models.ChildProfile{FamilyID: family.ID, Name: "Sam"}
	require.NoError(t, store.Children.CreateChild(ctx, child))

	app := &models.AppCategorization{
		FamilyID:    family.ID,
		ChildID:     child.ID,
		BundleID:    "com.khanacademy",
		DisplayName: "Khan Academy",
		Category:    models.CategoryLearning,
	}
	require.NoError(t, store.Apps.SaveAppCategorization(ctx, app))

	app.PointsPerHour = 20
	app.UpdatedAt = time.Time{}
	require.NoError(t, store.Apps.SaveAppCategorization(ctx, app))

	apps, err := store.Apps.FetchAppCategorizations(ctx, family.ID, child.ID, 0)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, 20, apps[0].PointsPerHour)
	assert.Equal(t, models.CategoryLearning, apps[0].Category)

	other, err := store.Apps.FetchAppCategorizations(ctx, family.ID, "someone-else", 0)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, store.Apps.DeleteAppCategorization(ctx, app.ID))
	got, err := store.Apps.FetchAppCategorization(ctx, app.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSettingsRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	family := createFamily(t, store)

	empty, err := store.Settings.FetchFamilySettings(ctx, family.ID)
	require.NoError(t, err)
	require.NotNil(t, empty)
	assert.Empty(t, empty.Values)

	at := time.Now().UTC()
	require.NoError(t, store.Settings.UpdateFamilySettings(ctx, family.ID,
		map[string]string{"dailyLimitMinutes": "60", "bedtime": "20:00"}, "alice", at))
	require.NoError(t, store.Settings.UpdateFamilySettings(ctx, family.ID,
		map[string]string{"dailyLimitMinutes": "90"}, "bob", at.Add(time.Second)))

	settings, err := store.Settings.FetchFamilySettings(ctx, family.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"dailyLimitMinutes": "90", "bedtime": "20:00"}, settings.Values)
	assert.Equal(t, "bob", settings.UpdatedBy)
}

func TestActivityRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		var changes models.ActivityChanges
		changes = changes.Set("pointsChange", "+10")
		require.NoError(t, store.Activities.CreateActivity(ctx, &models.ParentActivity{
			FamilyID:         "fam",
			TriggeringUserID: "alice",
			ActivityType:     models.ActivityPointsAdjusted,
			TargetEntity:     models.RecordTypeChildProfile,
			TargetEntityID:   "child",
			Changes:          changes,
			Timestamp:        base.Add(time.Duration(i) * time.Hour),
			DeviceID:         "ipad",
		}))
	}

	latest, err := store.Activities.FetchActivities(ctx, ActivityQuery{FamilyID: "fam", Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, base.Add(4*time.Hour), latest[0].Timestamp.UTC())
	v, _ := latest[0].Changes.Get("pointsChange")
	assert.Equal(t, "+10", v)

	ranged, err := store.Activities.FetchActivities(ctx, ActivityQuery{
		FamilyID: "fam", Start: base.Add(time.Hour), End: base.Add(3 * time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	since, err := store.Activities.FetchActivities(ctx, ActivityQuery{FamilyID: "fam", After: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, since, 1)

	old, err := store.Activities.FetchActivitiesBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, old, 2)

	n, err := store.Activities.DeleteActivitiesBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rest, err := store.Activities.FetchActivities(ctx, ActivityQuery{FamilyID: "fam"})
	require.NoError(t, err)
	assert.Len(t, rest, 3)
}

func TestConflictRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	now := time.Now().UTC()
	pending := &models.ConflictMetadata{
		FamilyID:   "fam",
		RecordType: models.RecordTypeChildProfile,
		RecordID:   "child",
		Changes: []models.ConflictChange{{
			UserID:       "alice",
			ChangeType:   models.ChangeUpdate,
			FieldChanges: []models.FieldChange{{FieldName: models.FieldPointsPerHour, NewValue: models.StringPtr("15")}},
			Timestamp:    now,
			DeviceID:     "ipad",
		}},
		ResolutionStrategy: models.StrategyManualSelection,
	}
	require.NoError(t, store.Conflicts.SaveConflict(ctx, pending))

	got, err := store.Conflicts.FetchOpenConflict(ctx, pending.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pending.ID, got.ID)
	require.Len(t, got.Changes, 1)
	assert.Equal(t, "15", got.Changes[0].FieldChanges[0].NewValueString())
	assert.Nil(t, got.Changes[0].FieldChanges[0].OldValue)

	got.Changes = append(got.Changes, models.ConflictChange{UserID: "bob", ChangeType: models.ChangeUpdate, Timestamp: now})
	require.NoError(t, store.Conflicts.SaveConflict(ctx, got))

	dup := &models.ConflictMetadata{FamilyID: "fam", RecordType: models.RecordTypeChildProfile, RecordID: "child",
		ResolutionStrategy: models.StrategyManualSelection}
	assert.ErrorIs(t, store.Conflicts.SaveConflict(ctx, dup), conflict.ErrOpenConflictExists)

	open, err := store.Conflicts.ListOpenConflicts(ctx, "fam")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Len(t, open[0].Changes, 2)

	require.NoError(t, store.Conflicts.DeleteConflict(ctx, pending.ID))
	gone, err := store.Conflicts.FetchConflict(ctx, pending.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	require.NoError(t, store.Users.SaveUser(ctx, &models.User{ID: "alice", Email: "alice@example.com", Name: "Alice"}))
	require.NoError(t, store.Users.SaveUser(ctx, &models.User{ID: "alice", Email: "a@example.com", Name: "Alice"}))

	users, err := store.Users.GetUsersByIDs(ctx, []string{"alice", "ghost"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "a@example.com", users[0].Email)
}
