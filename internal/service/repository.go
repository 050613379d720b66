package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"screentime/internal/models"
	"screentime/internal/permission"
	"screentime/internal/repository"
)

var (
	ErrRecordNotFound  = errors.New("record not found in this family")
	ErrInvalidRole     = errors.New("invalid role")
	ErrOwnerImmutable  = errors.New("the family owner cannot be changed or removed")
	ErrNameRequired    = errors.New("name is required")
	ErrInvalidCategory = errors.New("invalid app category")
)

// WriteEvent describes a write that went through the façade.
type WriteEvent struct {
	Key          models.RecordKey
	UserID       string
	ChangeType   models.ChangeType
	FieldChanges []models.FieldChange
	Timestamp    time.Time
}

// WriteObserver is told about every successful write.
type WriteObserver interface {
	ObserveWrite(ctx context.Context, event WriteEvent) error
}

// PermissionAwareRepository gates every shared-record operation behind a
// permission check. Denied calls return permission.ErrUnauthorized before
// anything is written.
type PermissionAwareRepository struct {
	store    RecordStore
	perms    *permission.Service
	observer WriteObserver
	logger   *zap.Logger
	now      func() time.Time
}

// NewPermissionAwareRepository creates the façade. observer may be nil.
func NewPermissionAwareRepository(store RecordStore, perms *permission.Service, observer WriteObserver, logger *zap.Logger) *PermissionAwareRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionAwareRepository{
		store:    store,
		perms:    perms,
		observer: observer,
		logger:   logger.Named("repository"),
		now:      time.Now,
	}
}

// SetObserver replaces the write observer.
func (r *PermissionAwareRepository) SetObserver(observer WriteObserver) {
	r.observer = observer
}

func (r *PermissionAwareRepository) authorize(ctx context.Context, userID, familyID string, action models.Action) (*models.Family, error) {
	return r.perms.Authorize(ctx, permission.Check{UserID: userID, FamilyID: familyID, Action: action})
}

func (r *PermissionAwareRepository) observe(ctx context.Context, event WriteEvent) {
	if r.observer == nil {
		return
	}
	if err := r.observer.ObserveWrite(ctx, event); err != nil {
		r.logger.Warn("write observer failed",
			zap.String("record", event.Key.String()),
			zap.Error(err))
	}
}

// CreateFamily creates a family owned by userID. No permission is needed.
func (r *PermissionAwareRepository) CreateFamily(ctx context.Context, userID, name string) (*models.Family, error) {
	if name == "" {
		return nil, ErrNameRequired
	}
	family := &models.Family{Name: name, OwnerUserID: userID}
	if err := r.store.Families.CreateFamily(ctx, family); err != nil {
		return nil, err
	}
	family.UserRoles = map[string]models.Role{}
	r.observe(ctx, WriteEvent{
		Key:          models.RecordKey{FamilyID: family.ID, RecordType: models.RecordTypeFamily, RecordID: family.ID},
		UserID:       userID,
		ChangeType:   models.ChangeCreate,
		FieldChanges: diffFields(nil, map[string]string{models.FieldName: name}),
		Timestamp:    family.UpdatedAt,
	})
	return family, nil
}

// FetchFamily returns the family if userID may view it.
func (r *PermissionAwareRepository) FetchFamily(ctx context.Context, userID, familyID string) (*models.Family, error) {
	return r.authorize(ctx, userID, familyID, models.ActionView)
}

// FetchFamilies returns every family userID belongs to.
func (r *PermissionAwareRepository) FetchFamilies(ctx context.Context, userID string) ([]models.Family, error) {
	return r.store.Families.FetchFamiliesForUser(ctx, userID)
}

// FetchChildren lists a family's children.
func (r *PermissionAwareRepository) FetchChildren(ctx context.Context, userID, familyID string, limit int) ([]models.ChildProfile, error) {
	if _, err := r.authorize(ctx, userID, familyID, models.ActionView); err != nil {
		return nil, err
	}
	return r.store.Children.FetchChildren(ctx, familyID, limit)
}

// FetchChild returns one child of the family or ErrRecordNotFound.
func (r *PermissionAwareRepository) FetchChild(ctx context.Context, userID, familyID, childID string) (*models.ChildProfile, error) {
	if _, err := r.authorize(ctx, userID, familyID, models.ActionView); err != nil {
		return nil, err
	}
	return r.familyChild(ctx, familyID, childID)
}

// FetchAppCategorizations lists categorizations, optionally for one child.
func (r *PermissionAwareRepository) FetchAppCategorizations(ctx context.Context, userID, familyID, childID string, limit int) ([]models.AppCategorization, error) {
	if _, err := r.authorize(ctx, userID, familyID, models.ActionView); err != nil {
		return nil, err
	}
	return r.store.Apps.FetchAppCategorizations(ctx, familyID, childID, limit)
}

// FetchAppCategorization returns one categorization or ErrRecordNotFound.
func (r *PermissionAwareRepository) FetchAppCategorization(ctx context.Context, userID, familyID, appID string) (*models.AppCategorization, error) {
	if _, err := r.authorize(ctx, userID, familyID, models.ActionView); err != nil {
		return nil, err
	}
	return r.familyApp(ctx, familyID, appID)
}

// FetchFamilySettings returns the family's settings.
func (r *PermissionAwareRepository) FetchFamilySettings(ctx context.Context, userID, familyID string) (*models.FamilySettings, error) {
	if _, err := r.authorize(ctx, userID, familyID, models.ActionView); err != nil {
		return nil, err
	}
	return r.store.Settings.FetchFamilySettings(ctx, familyID)
}

// CreateChild adds a child profile to the family.
func (r *PermissionAwareRepository) CreateChild(ctx context.Context, userID string, child *models.ChildProfile) error {
	if _, err := r.authorize(ctx, userID, child.FamilyID, models.ActionEdit); err != nil {
		return err
	}
	if child.Name == "" {
		return ErrNameRequired
	}
	child.UpdatedBy = userID
	child.UpdatedAt = r.now().UTC()
	if err := r.store.Children.CreateChild(ctx, child); err != nil {
		return err
	}
	r.observe(ctx, WriteEvent{
		Key:          childKey(child),
		UserID:       userID,
		ChangeType:   models.ChangeCreate,
		FieldChanges: diffFields(nil, child.Fields()),
		Timestamp:    child.UpdatedAt,
	})
	return nil
}

// UpdateChild writes the profile. The child must already belong to the family.
func (r *PermissionAwareRepository) UpdateChild(ctx context.Context, userID string, child *models.ChildProfile) error {
	if _, err := r.authorize(ctx, userID, child.FamilyID, models.ActionEdit); err != nil {
		return err
	}
	existing, err := r.familyChild(ctx, child.FamilyID, child.ID)
	if err != nil {
		return err
	}
	child.UpdatedBy = userID
	child.UpdatedAt = r.now().UTC()
	if err := r.store.Children.UpdateChild(ctx, child); err != nil {
		return err
	}
	r.observe(ctx, WriteEvent{
		Key:          childKey(child),
		UserID:       userID,
		ChangeType:   models.ChangeUpdate,
		FieldChanges: diffFields(existing.Fields(), child.Fields()),
		Timestamp:    child.UpdatedAt,
	})
	return nil
}

// DeleteChild removes a child profile and its app categorizations.
func (r *PermissionAwareRepository) DeleteChild(ctx context.Context, userID, familyID, childID string) error {
	if _, err := r.authorize(ctx, userID, familyID, models.ActionDelete); err != nil {
		return err
	}
	child, err := r.familyChild(ctx, familyID, childID)
	if err != nil {
		return err
	}
	if err := r.store.Children.DeleteChild(ctx, childID); err != nil {
		return err
	}
	r.observe(ctx, WriteEvent{
		Key:        childKey(child),
		UserID:     userID,
		ChangeType: models.ChangeDelete,
		Timestamp:  r.now().UTC(),
	})
	return nil
}

// SaveAppCategorization creates or updates a categorization.
func (r *PermissionAwareRepository) SaveAppCategorization(ctx context.Context, userID string, app *models.AppCategorization) error {
	if _, err := r.authorize(ctx, userID, app.FamilyID, models.ActionEdit); err != nil {
		return err
	}
	if app.Category != models.CategoryLearning && app.Category != models.CategoryReward {
		return ErrInvalidCategory
	}
	if _, err := r.familyChild(ctx, app.FamilyID, app.ChildID); err != nil {
		return err
	}

	changeType := models.ChangeCreate
	var before map[string]string
	if app.ID != "" {
		existing, err := r.store.Apps.FetchAppCategorization(ctx, app.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.FamilyID != app.FamilyID {
				return ErrRecordNotFound
			}
			changeType = models.ChangeUpdate
			before = existing.Fields()
			app.CreatedAt = existing.CreatedAt
		}
	}

	app.UpdatedBy = userID
	app.UpdatedAt = r.now().UTC()
	if err := r.store.Apps.SaveAppCategorization(ctx, app); err != nil {
		return err
	}
	r.observe(ctx, WriteEvent{
		Key:          appKey(app),
		UserID:       userID,
		ChangeType:   changeType,
		FieldChanges: diffFields(before, app.Fields()),
		Timestamp:    app.UpdatedAt,
	})
	return nil
}

// DeleteAppCategorization removes a categorization.
func (r *PermissionAwareRepository) DeleteAppCategorization(ctx context.Context, userID, familyID, appID string) error {
	if _, err := r.authorize(ctx, userID, familyID, models.ActionDelete); err != nil {
		return err
	}
	app, err := r.familyApp(ctx, familyID, appID)
	if err != nil {
		return err
	}
	if err := r.store.Apps.DeleteAppCategorization(ctx, appID); err != nil {
		return err
	}
	r.observe(ctx, WriteEvent{
		Key:        appKey(app),
		UserID:     userID,
		ChangeType: models.ChangeDelete,
		Timestamp:  r.now().UTC(),
	})
	return nil
}

// UpdateFamilySettings merges values into the family's settings.
func (r *PermissionAwareRepository) UpdateFamilySettings(ctx context.Context, userID, familyID string, values map[string]string) error {
	if _, err := r.authorize(ctx, userID, familyID, models.ActionEdit); err != nil {
		return err
	}
	existing, err := r.store.Settings.FetchFamilySettings(ctx, familyID)
	if err != nil {
		return err
	}
	at := r.now().UTC()
	if err := r.store.Settings.UpdateFamilySettings(ctx, familyID, values, userID, at); err != nil {
		return err
	}

	after := existing.Fields()
	for k, v := range values {
		after[k] = v
	}
	r.observe(ctx, WriteEvent{
		Key:          models.RecordKey{FamilyID: familyID, RecordType: models.RecordTypeFamilySettings, RecordID: familyID},
		UserID:       userID,
		ChangeType:   models.ChangeUpdate,
		FieldChanges: diffFields(existing.Fields(), after),
		Timestamp:    at,
	})
	return nil
}

// AssignUserRole gives targetUserID a non-owner role. Only the owner may do this.
func (r *PermissionAwareRepository) AssignUserRole(ctx context.Context, userID, familyID, targetUserID string, role models.Role) error {
	family, err := r.authorize(ctx, userID, familyID, models.ActionInvite)
	if err != nil {
		return err
	}
	if role != models.RoleCoParent && role != models.RoleViewer {
		return ErrInvalidRole
	}
	if targetUserID == "" || targetUserID == family.OwnerUserID {
		return ErrOwnerImmutable
	}
	if err := r.store.Families.SetMemberRole(ctx, familyID, targetUserID, role); err != nil {
		return err
	}
	r.observeFamily(ctx, family, userID, targetUserID, string(role))
	return nil
}

// RemoveUser drops targetUserID from the family. Only the owner may do this.
func (r *PermissionAwareRepository) RemoveUser(ctx context.Context, userID, familyID, targetUserID string) error {
	family, err := r.authorize(ctx, userID, familyID, models.ActionRemove)
	if err != nil {
		return err
	}
	if targetUserID == family.OwnerUserID {
		return ErrOwnerImmutable
	}
	if err := r.store.Families.RemoveMember(ctx, familyID, targetUserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRecordNotFound
		}
		return err
	}
	r.observeFamily(ctx, family, userID, targetUserID, "")
	return nil
}

// DeleteFamily removes the family and its shared records. Only the owner may
// do this. The activity history is kept until retention removes it.
func (r *PermissionAwareRepository) DeleteFamily(ctx context.Context, userID, familyID string) error {
	if _, err := r.authorize(ctx, userID, familyID, models.ActionRemove); err != nil {
		return err
	}
	if err := r.store.Families.DeleteFamily(ctx, familyID); err != nil {
		return err
	}
	r.observe(ctx, WriteEvent{
		Key:        models.RecordKey{FamilyID: familyID, RecordType: models.RecordTypeFamily, RecordID: familyID},
		UserID:     userID,
		ChangeType: models.ChangeDelete,
		Timestamp:  r.now().UTC(),
	})
	return nil
}

func (r *PermissionAwareRepository) observeFamily(ctx context.Context, family *models.Family, userID, targetUserID, role string) {
	var oldRole *string
	if current, ok := family.UserRoles[targetUserID]; ok {
		oldRole = models.StringPtr(string(current))
	}
	var newRole *string
	if role != "" {
		newRole = models.StringPtr(role)
	}
	r.observe(ctx, WriteEvent{
		Key:          models.RecordKey{FamilyID: family.ID, RecordType: models.RecordTypeFamily, RecordID: family.ID},
		UserID:       userID,
		ChangeType:   models.ChangeUpdate,
		FieldChanges: []models.FieldChange{{FieldName: "role:" + targetUserID, OldValue: oldRole, NewValue: newRole}},
		Timestamp:    r.now().UTC(),
	})
}

func (r *PermissionAwareRepository) familyChild(ctx context.Context, familyID, childID string) (*models.ChildProfile, error) {
	child, err := r.store.Children.FetchChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	if child == nil || child.FamilyID != familyID {
		return nil, ErrRecordNotFound
	}
	return child, nil
}

func (r *PermissionAwareRepository) familyApp(ctx context.Context, familyID, appID string) (*models.AppCategorization, error) {
	app, err := r.store.Apps.FetchAppCategorization(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app == nil || app.FamilyID != familyID {
		return nil, ErrRecordNotFound
	}
	return app, nil
}

func childKey(c *models.ChildProfile) models.RecordKey {
	return models.RecordKey{FamilyID: c.FamilyID, RecordType: models.RecordTypeChildProfile, RecordID: c.ID}
}

func appKey(a *models.AppCategorization) models.RecordKey {
	return models.RecordKey{FamilyID: a.FamilyID, RecordType: models.RecordTypeAppCategorization, RecordID: a.ID}
}

// diffFields lists the fields whose value differs between before and after,
// sorted by name. A nil before means every field is newly populated.
func diffFields(before, after map[string]string) []models.FieldChange {
	names := make([]string, 0, len(after))
	for name := range after {
		names = append(names, name)
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var changes []models.FieldChange
	for _, name := range names {
		oldValue, hadOld := before[name]
		newValue, hasNew := after[name]
		if hadOld && hasNew && oldValue == newValue {
			continue
		}
		fc := models.FieldChange{FieldName: name}
		if hadOld {
			fc.OldValue = models.StringPtr(oldValue)
		}
		if hasNew {
			fc.NewValue = models.StringPtr(newValue)
		}
		changes = append(changes, fc)
	}
	return changes
}
