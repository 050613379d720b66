// Package conflict detects concurrent writes to shared records and settles
// them by field merge, last-write-wins, or a parent's manual choice.
//
// Detection is a time-window heuristic, not a vector clock: two writes to the
// same record whose modification times differ by less than the window are
// treated as having raced.
package conflict

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"screentime/internal/metrics"
	"screentime/internal/models"
)

// DefaultWindow is the detection window used when none is configured.
const DefaultWindow = 5 * time.Second

// Detector remembers the locally known modification time of each record.
type Detector struct {
	window  time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu    sync.RWMutex
	known map[models.RecordKey]time.Time
}

// NewDetector creates a detector. A non-positive window selects DefaultWindow.
func NewDetector(window time.Duration, m *metrics.Metrics, logger *zap.Logger) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		window:  window,
		metrics: m,
		logger:  logger.Named("conflict.detector"),
		known:   make(map[models.RecordKey]time.Time),
	}
}

// Window returns the configured detection window.
func (d *Detector) Window() time.Duration {
	return d.window
}

// DetectConflict reports whether an incoming write stamped lastModified races
// the locally known modification of the same record. A delta of exactly the
// window is sequential. A record with no local history never conflicts.
func (d *Detector) DetectConflict(recordID, recordType, familyID string, lastModified time.Time) bool {
	key := models.RecordKey{FamilyID: familyID, RecordType: recordType, RecordID: recordID}

	d.mu.RLock()
	known, ok := d.known[key]
	d.mu.RUnlock()
	if !ok {
		return false
	}

	delta := lastModified.Sub(known)
	if delta < 0 {
		delta = -delta
	}
	if delta >= d.window {
		return false
	}

	d.metrics.RecordConflictDetected(recordType)
	d.logger.Debug("concurrent write detected",
		zap.String("record", key.String()),
		zap.Duration("delta", delta))
	return true
}

func (d *Detector) DetectFamilyConflict(family *models.Family) bool {
	return d.DetectConflict(family.ID, models.RecordTypeFamily, family.ID, family.UpdatedAt)
}

func (d *Detector) DetectChildProfileConflict(child *models.ChildProfile) bool {
	return d.DetectConflict(child.ID, models.RecordTypeChildProfile, child.FamilyID, child.UpdatedAt)
}

func (d *Detector) DetectAppCategorizationConflict(app *models.AppCategorization) bool {
	return d.DetectConflict(app.ID, models.RecordTypeAppCategorization, app.FamilyID, app.UpdatedAt)
}

// DetectSettingsConflict keys settings by family; there is one settings
// record per family.
func (d *Detector) DetectSettingsConflict(settings *models.FamilySettings) bool {
	return d.DetectConflict(settings.FamilyID, models.RecordTypeFamilySettings, settings.FamilyID, settings.UpdatedAt)
}

// RecordModification advances the known modification time of key. Older
// times are ignored so out-of-order deliveries cannot move it backwards.
func (d *Detector) RecordModification(key models.RecordKey, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.known[key]; ok && !at.After(prev) {
		return
	}
	d.known[key] = at
}

// Forget drops local history for key, typically after a delete.
func (d *Detector) Forget(key models.RecordKey) {
	d.mu.Lock()
	delete(d.known, key)
	d.mu.Unlock()
}

// LastModified returns the locally known modification time of key.
func (d *Detector) LastModified(key models.RecordKey) (time.Time, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.known[key]
	return t, ok
}
