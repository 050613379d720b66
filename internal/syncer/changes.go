package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"screentime/internal/changefeed"
	"screentime/internal/models"
	"screentime/internal/repository"
)

// Record is a flattened snapshot of one shared record.
type Record struct {
	Key       models.RecordKey
	Fields    map[string]string
	UpdatedAt time.Time
	UpdatedBy string
}

// RecordSource lists the current shared records of a family.
type RecordSource interface {
	Snapshot(ctx context.Context, familyID string) ([]Record, error)
}

// KnownModifications reports the modification time this process already
// knows for a record.
type KnownModifications interface {
	LastModified(key models.RecordKey) (time.Time, bool)
}

// StoreSource snapshots records from the SQL store.
type StoreSource struct {
	Store *repository.Store
}

// Snapshot implements RecordSource.
func (s StoreSource) Snapshot(ctx context.Context, familyID string) ([]Record, error) {
	children, err := s.Store.Children.FetchChildren(ctx, familyID, 0)
	if err != nil {
		return nil, err
	}
	apps, err := s.Store.Apps.FetchAppCategorizations(ctx, familyID, "", 0)
	if err != nil {
		return nil, err
	}
	settings, err := s.Store.Settings.FetchFamilySettings(ctx, familyID)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(children)+len(apps)+1)
	for i := range children {
		c := &children[i]
		records = append(records, Record{
			Key:       models.RecordKey{FamilyID: familyID, RecordType: models.RecordTypeChildProfile, RecordID: c.ID},
			Fields:    c.Fields(),
			UpdatedAt: c.UpdatedAt,
			UpdatedBy: c.UpdatedBy,
		})
	}
	for i := range apps {
		a := &apps[i]
		records = append(records, Record{
			Key:       models.RecordKey{FamilyID: familyID, RecordType: models.RecordTypeAppCategorization, RecordID: a.ID},
			Fields:    a.Fields(),
			UpdatedAt: a.UpdatedAt,
			UpdatedBy: a.UpdatedBy,
		})
	}
	if !settings.UpdatedAt.IsZero() {
		records = append(records, Record{
			Key:       models.RecordKey{FamilyID: familyID, RecordType: models.RecordTypeFamilySettings, RecordID: familyID},
			Fields:    settings.Fields(),
			UpdatedAt: settings.UpdatedAt,
			UpdatedBy: settings.UpdatedBy,
		})
	}
	return records, nil
}

// ChangeDetector finds records that changed since the previous snapshot and
// were not written through this process. The first call for a family only
// records a baseline. Deletions are not reported; they travel on the change
// feed.
type ChangeDetector struct {
	source RecordSource
	known  KnownModifications

	mu   sync.Mutex
	seen map[string]map[models.RecordKey]Record
}

// NewChangeDetector creates a detector. known may be nil.
func NewChangeDetector(source RecordSource, known KnownModifications) *ChangeDetector {
	return &ChangeDetector{
		source: source,
		known:  known,
		seen:   make(map[string]map[models.RecordKey]Record),
	}
}

// Detect snapshots the family and returns a notification per changed record,
// oldest change first.
func (d *ChangeDetector) Detect(ctx context.Context, familyID string) ([]changefeed.Notification, error) {
	records, err := d.source.Snapshot(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot records: %w", err)
	}

	current := make(map[models.RecordKey]Record, len(records))
	for _, r := range records {
		current[r.Key] = r
	}

	d.mu.Lock()
	previous, hasBaseline := d.seen[familyID]
	d.seen[familyID] = current
	d.mu.Unlock()
	if !hasBaseline {
		return nil, nil
	}

	var out []changefeed.Notification
	for key, r := range current {
		before, existed := previous[key]
		if existed && !r.UpdatedAt.After(before.UpdatedAt) {
			continue
		}
		if d.known != nil {
			if at, ok := d.known.LastModified(key); ok && !r.UpdatedAt.After(at) {
				continue
			}
		}

		n := changefeed.Notification{
			FamilyID:   key.FamilyID,
			RecordType: key.RecordType,
			RecordID:   key.RecordID,
			ChangeType: models.ChangeUpdate,
			UserID:     r.UpdatedBy,
			Timestamp:  r.UpdatedAt,
		}
		if existed {
			n.FieldChanges = fieldChanges(before.Fields, r.Fields)
		} else {
			n.ChangeType = models.ChangeCreate
			n.FieldChanges = fieldChanges(nil, r.Fields)
		}
		if len(n.FieldChanges) == 0 && existed {
			continue
		}
		out = append(out, n)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Key().String() < out[j].Key().String()
	})
	return out, nil
}

// Reset drops the baseline of a family.
func (d *ChangeDetector) Reset(familyID string) {
	d.mu.Lock()
	delete(d.seen, familyID)
	d.mu.Unlock()
}

func fieldChanges(before, after map[string]string) []models.FieldChange {
	names := make([]string, 0, len(after))
	for name := range after {
		names = append(names, name)
	}
	sort.Strings(names)

	var changes []models.FieldChange
	for _, name := range names {
		newValue := after[name]
		oldValue, hadOld := before[name]
		if hadOld && oldValue == newValue {
			continue
		}
		fc := models.FieldChange{FieldName: name, NewValue: models.StringPtr(newValue)}
		if hadOld {
			fc.OldValue = models.StringPtr(oldValue)
		}
		changes = append(changes, fc)
	}
	return changes
}
