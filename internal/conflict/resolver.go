package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"screentime/internal/archive"
	"screentime/internal/metrics"
	"screentime/internal/models"
)

var (
	ErrConflictNotFound = errors.New("conflict not found")
	ErrInvalidChoice    = errors.New("invalid conflict choice")
	ErrInvalidConflict  = errors.New("conflict must name a family, record type and record")
	// ErrOpenConflictExists is returned by Store.SaveConflict when inserting
	// a conflict for a record that already has an open one.
	ErrOpenConflictExists = errors.New("record already has an open conflict")
)

// Store persists open conflicts.
type Store interface {
	FetchOpenConflict(ctx context.Context, key models.RecordKey) (*models.ConflictMetadata, error)
	FetchConflict(ctx context.Context, id string) (*models.ConflictMetadata, error)
	ListOpenConflicts(ctx context.Context, familyID string) ([]models.ConflictMetadata, error)
	SaveConflict(ctx context.Context, conflict *models.ConflictMetadata) error
	DeleteConflict(ctx context.Context, id string) error
}

// Resolution is the outcome of settling a conflict. Change is the change to
// apply to the record; it is nil while a conflict waits for a parent.
type Resolution struct {
	State    models.ConflictState
	Change   *models.ConflictChange
	Conflict *models.ConflictMetadata
}

// Resolver settles conflicts and keeps unresolved ones in the store.
type Resolver struct {
	store   Store
	archive archive.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewResolver creates a resolver. archiver may be nil, in which case resolved
// conflicts are deleted without a copy.
func NewResolver(store Store, archiver archive.Store, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:   store,
		archive: archiver,
		metrics: m,
		logger:  logger.Named("conflict.resolver"),
		now:     time.Now,
	}
}

// writeOrder is the total order used by last-write-wins: timestamp, then
// device ID, then user ID. It makes exact timestamp ties deterministic.
func writeOrder(a, b models.ConflictChange) int {
	if !a.Timestamp.Equal(b.Timestamp) {
		if a.Timestamp.Before(b.Timestamp) {
			return -1
		}
		return 1
	}
	if a.DeviceID != b.DeviceID {
		if a.DeviceID < b.DeviceID {
			return -1
		}
		return 1
	}
	switch {
	case a.UserID < b.UserID:
		return -1
	case a.UserID > b.UserID:
		return 1
	}
	return 0
}

func candidateChanges(conflict *models.ConflictMetadata, changes []models.ConflictChange) []models.ConflictChange {
	if len(changes) == 0 && conflict != nil {
		return conflict.Changes
	}
	return changes
}

// ResolveWithLastWriteWins returns the latest change. When changes is empty
// the conflict's own changes are considered. It returns nil for no input.
func (r *Resolver) ResolveWithLastWriteWins(conflict *models.ConflictMetadata, changes []models.ConflictChange) *models.ConflictChange {
	changes = candidateChanges(conflict, changes)
	if len(changes) == 0 {
		return nil
	}
	winner := changes[0]
	for _, c := range changes[1:] {
		if writeOrder(c, winner) > 0 {
			winner = c
		}
	}
	out := cloneChange(winner)
	return &out
}

// MergeChanges unions the field changes of all inputs. It returns nil when
// two changes set one field to different values, or when a delete races a
// non-delete. Identical edits to the same field collapse into one. The result
// carries the latest writer's identity and timestamp.
func (r *Resolver) MergeChanges(conflict *models.ConflictMetadata, changes []models.ConflictChange) *models.ConflictChange {
	changes = candidateChanges(conflict, changes)
	if len(changes) == 0 {
		return nil
	}

	ordered := make([]models.ConflictChange, len(changes))
	copy(ordered, changes)
	sort.SliceStable(ordered, func(i, j int) bool { return writeOrder(ordered[i], ordered[j]) < 0 })

	deletes, creates := 0, 0
	for _, c := range ordered {
		switch c.ChangeType {
		case models.ChangeDelete:
			deletes++
		case models.ChangeCreate:
			creates++
		}
	}
	if deletes > 0 && deletes != len(ordered) {
		return nil
	}

	latest := ordered[len(ordered)-1]
	merged := models.ConflictChange{
		UserID:     latest.UserID,
		ChangeType: models.ChangeUpdate,
		Timestamp:  latest.Timestamp,
		DeviceID:   latest.DeviceID,
	}
	switch {
	case deletes == len(ordered):
		merged.ChangeType = models.ChangeDelete
	case creates == len(ordered):
		merged.ChangeType = models.ChangeCreate
	}

	seen := make(map[string]models.FieldChange)
	for _, c := range ordered {
		for _, fc := range c.FieldChanges {
			if prev, ok := seen[fc.FieldName]; ok {
				if !prev.SameNewValue(fc) {
					return nil
				}
				continue
			}
			seen[fc.FieldName] = fc
			merged.FieldChanges = append(merged.FieldChanges, cloneField(fc))
		}
	}
	return &merged
}

// StoreConflictMetadata persists a conflict for later manual resolution. When
// the record already has an open conflict the new changes are appended to it,
// skipping any already recorded from the same user, device and time. Losing
// an insert race to another device also ends in an append.
func (r *Resolver) StoreConflictMetadata(ctx context.Context, metadata *models.ConflictMetadata) error {
	if metadata == nil || metadata.FamilyID == "" || metadata.RecordType == "" || metadata.RecordID == "" {
		return ErrInvalidConflict
	}

	existing, err := r.store.FetchOpenConflict(ctx, metadata.Key())
	if err != nil {
		return fmt.Errorf("failed to load open conflict: %w", err)
	}
	if existing != nil && existing.ID != metadata.ID {
		return r.appendToOpen(ctx, existing, metadata)
	}

	assignedID := metadata.ID
	err = r.store.SaveConflict(ctx, metadata)
	if !errors.Is(err, ErrOpenConflictExists) {
		if err != nil {
			return fmt.Errorf("failed to store conflict: %w", err)
		}
		return nil
	}

	metadata.ID = assignedID
	existing, err = r.store.FetchOpenConflict(ctx, metadata.Key())
	if err != nil {
		return fmt.Errorf("failed to load open conflict: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("failed to store conflict: %w", ErrOpenConflictExists)
	}
	r.logger.Debug("open conflict created concurrently, appending",
		zap.String("record", metadata.Key().String()),
		zap.String("conflict_id", existing.ID))
	return r.appendToOpen(ctx, existing, metadata)
}

func (r *Resolver) appendToOpen(ctx context.Context, existing, metadata *models.ConflictMetadata) error {
	existing.Changes = appendNewChanges(existing.Changes, metadata.Changes)
	existing.ResolutionStrategy = metadata.ResolutionStrategy
	for k, v := range metadata.Metadata {
		if existing.Metadata == nil {
			existing.Metadata = make(map[string]string)
		}
		existing.Metadata[k] = v
	}
	if err := r.store.SaveConflict(ctx, existing); err != nil {
		return fmt.Errorf("failed to store conflict: %w", err)
	}
	*metadata = *existing
	return nil
}

// Resolve settles a freshly detected conflict: merge first, then
// last-write-wins when the conflict allows it, otherwise the conflict is
// stored as pending manual resolution.
func (r *Resolver) Resolve(ctx context.Context, conflict *models.ConflictMetadata, changes []models.ConflictChange) (*Resolution, error) {
	if conflict == nil {
		return nil, ErrInvalidConflict
	}
	changes = candidateChanges(conflict, changes)

	if merged := r.MergeChanges(conflict, changes); merged != nil {
		r.metrics.RecordConflictOutcome(string(models.StateMerged))
		return &Resolution{State: models.StateMerged, Change: merged, Conflict: conflict}, nil
	}

	if conflict.ResolutionStrategy == models.StrategyLastWriteWins {
		winner := r.ResolveWithLastWriteWins(conflict, changes)
		r.metrics.RecordConflictOutcome(string(models.StateAutoResolved))
		r.logger.Info("conflict resolved by last write",
			zap.String("record", conflict.Key().String()),
			zap.String("winner", winner.UserID))
		return &Resolution{State: models.StateAutoResolved, Change: winner, Conflict: conflict}, nil
	}

	conflict.ResolutionStrategy = models.StrategyManualSelection
	conflict.Changes = appendNewChanges(nil, changes)
	if err := r.StoreConflictMetadata(ctx, conflict); err != nil {
		return nil, err
	}
	r.metrics.RecordConflictOutcome(string(models.StatePendingManualResolution))
	r.logger.Info("conflict needs a parent's decision",
		zap.String("conflict_id", conflict.ID),
		zap.String("record", conflict.Key().String()),
		zap.Int("changes", len(conflict.Changes)))
	return &Resolution{State: models.StatePendingManualResolution, Conflict: conflict}, nil
}

// ResolveManually applies a parent's pick among the stored changes. The
// conflict is archived, when an archive is configured, and then deleted.
func (r *Resolver) ResolveManually(ctx context.Context, conflictID string, choice int, resolvedBy string) (*Resolution, error) {
	conflict, err := r.store.FetchConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflict: %w", err)
	}
	if conflict == nil {
		return nil, ErrConflictNotFound
	}
	if choice < 0 || choice >= len(conflict.Changes) {
		return nil, ErrInvalidChoice
	}
	chosen := cloneChange(conflict.Changes[choice])

	if conflict.Metadata == nil {
		conflict.Metadata = make(map[string]string)
	}
	conflict.Metadata["resolvedBy"] = resolvedBy
	conflict.Metadata["resolvedAt"] = r.now().UTC().Format(time.RFC3339Nano)
	conflict.Metadata["choice"] = strconv.Itoa(choice)

	if err := r.archiveConflict(ctx, conflict); err != nil {
		return nil, err
	}
	if err := r.store.DeleteConflict(ctx, conflict.ID); err != nil {
		return nil, fmt.Errorf("failed to delete resolved conflict: %w", err)
	}

	r.metrics.RecordConflictOutcome("manuallyResolved")
	r.logger.Info("conflict resolved by parent",
		zap.String("conflict_id", conflict.ID),
		zap.String("resolved_by", resolvedBy),
		zap.Int("choice", choice))
	return &Resolution{State: models.StateClean, Change: &chosen, Conflict: conflict}, nil
}

// OpenConflict returns the open conflict for key, or nil.
func (r *Resolver) OpenConflict(ctx context.Context, key models.RecordKey) (*models.ConflictMetadata, error) {
	conflict, err := r.store.FetchOpenConflict(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load open conflict: %w", err)
	}
	return conflict, nil
}

// Conflict returns a stored conflict by ID or ErrConflictNotFound.
func (r *Resolver) Conflict(ctx context.Context, conflictID string) (*models.ConflictMetadata, error) {
	conflict, err := r.store.FetchConflict(ctx, conflictID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflict: %w", err)
	}
	if conflict == nil {
		return nil, ErrConflictNotFound
	}
	return conflict, nil
}

// OpenConflicts lists a family's conflicts awaiting a decision.
func (r *Resolver) OpenConflicts(ctx context.Context, familyID string) ([]models.ConflictMetadata, error) {
	conflicts, err := r.store.ListOpenConflicts(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return conflicts, nil
}

func (r *Resolver) archiveConflict(ctx context.Context, conflict *models.ConflictMetadata) error {
	if r.archive == nil {
		return nil
	}
	if err := r.archive.PutJSON(ctx, archive.ConflictKey(conflict.FamilyID, conflict.ID), conflict); err != nil {
		return fmt.Errorf("failed to archive conflict: %w", err)
	}
	return nil
}

func appendNewChanges(dst, src []models.ConflictChange) []models.ConflictChange {
	for _, c := range src {
		dup := false
		for _, have := range dst {
			if have.UserID == c.UserID && have.DeviceID == c.DeviceID && have.Timestamp.Equal(c.Timestamp) {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, cloneChange(c))
		}
	}
	return dst
}

func cloneChange(c models.ConflictChange) models.ConflictChange {
	out := c
	if c.FieldChanges != nil {
		out.FieldChanges = make([]models.FieldChange, len(c.FieldChanges))
		for i, fc := range c.FieldChanges {
			out.FieldChanges[i] = cloneField(fc)
		}
	}
	return out
}

func cloneField(fc models.FieldChange) models.FieldChange {
	out := models.FieldChange{FieldName: fc.FieldName}
	if fc.OldValue != nil {
		out.OldValue = models.StringPtr(*fc.OldValue)
	}
	if fc.NewValue != nil {
		out.NewValue = models.StringPtr(*fc.NewValue)
	}
	return out
}
