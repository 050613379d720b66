package conflict

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"screentime/internal/metrics"
	"screentime/internal/models"
)

func TestDetectConflictWindow(t *testing.T) {
	d := NewDetector(0, nil, zaptest.NewLogger(t))
	assert.Equal(t, 5*time.Second, d.Window())

	known := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	key := models.RecordKey{FamilyID: "fam", RecordType: models.RecordTypeChildProfile, RecordID: "child"}
	d.RecordModification(key, known)

	tests := []struct {
		name  string
		delta time.Duration
		want  bool
	}{
		{name: "same instant", delta: 0, want: true},
		{name: "two seconds later", delta: 2 * time.Second, want: true},
		{name: "just under window", delta: 5*time.Second - time.Nanosecond, want: true},
		{name: "exactly window is sequential", delta: 5 * time.Second, want: false},
		{name: "exactly window earlier is sequential", delta: -5 * time.Second, want: false},
		{name: "just over window", delta: 5*time.Second + time.Nanosecond, want: false},
		{name: "earlier within window", delta: -3 * time.Second, want: true},
		{name: "an hour later", delta: time.Hour, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.DetectConflict(key.RecordID, key.RecordType, key.FamilyID, known.Add(tt.delta))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectConflictWithoutHistory(t *testing.T) {
	d := NewDetector(5*time.Second, nil, nil)
	assert.False(t, d.DetectConflict("child", models.RecordTypeChildProfile, "fam", time.Now()))
}

func TestTypedDetectors(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	d := NewDetector(5*time.Second, m, nil)
	now := time.Now()

	child := &models.ChildProfile{ID: "c1", FamilyID: "fam", UpdatedAt: now}
	app := &models.AppCategorization{ID: "a1", FamilyID: "fam", UpdatedAt: now}
	settings := &models.FamilySettings{FamilyID: "fam", UpdatedAt: now}
	family := &models.Family{ID: "fam", UpdatedAt: now}

	d.RecordModification(models.RecordKey{FamilyID: "fam", RecordType: models.RecordTypeChildProfile, RecordID: "c1"}, now.Add(-time.Second))
	d.RecordModification(models.RecordKey{FamilyID: "fam", RecordType: models.RecordTypeAppCategorization, RecordID: "a1"}, now.Add(-time.Minute))
	d.RecordModification(models.RecordKey{FamilyID: "fam", RecordType: models.RecordTypeFamilySettings, RecordID: "fam"}, now.Add(time.Second))
	d.RecordModification(models.RecordKey{FamilyID: "fam", RecordType: models.RecordTypeFamily, RecordID: "fam"}, now)

	assert.True(t, d.DetectChildProfileConflict(child))
	assert.False(t, d.DetectAppCategorizationConflict(app))
	assert.True(t, d.DetectSettingsConflict(settings))
	assert.True(t, d.DetectFamilyConflict(family))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConflictsDetected.WithLabelValues(models.RecordTypeChildProfile)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConflictsDetected.WithLabelValues(models.RecordTypeAppCategorization)))
}

func TestRecordModificationIsMonotonic(t *testing.T) {
	d := NewDetector(5*time.Second, nil, nil)
	key := models.RecordKey{FamilyID: "fam", RecordType: models.RecordTypeChildProfile, RecordID: "c1"}
	t0 := time.Now()

	d.RecordModification(key, t0)
	d.RecordModification(key, t0.Add(-time.Minute))
	got, ok := d.LastModified(key)
	assert.True(t, ok)
	assert.True(t, got.Equal(t0))

	d.RecordModification(key, t0.Add(time.Minute))
	got, _ = d.LastModified(key)
	assert.True(t, got.Equal(t0.Add(time.Minute)))

	d.Forget(key)
	_, ok = d.LastModified(key)
	assert.False(t, ok)
}

func TestDetectorConcurrentAccess(t *testing.T) {
	d := NewDetector(5*time.Second, nil, nil)
	key := models.RecordKey{FamilyID: "fam", RecordType: models.RecordTypeChildProfile, RecordID: "c1"}
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			d.RecordModification(key, now.Add(time.Duration(i)*time.Millisecond))
		}(i)
		go func() {
			defer wg.Done()
			d.DetectConflict(key.RecordID, key.RecordType, key.FamilyID, now)
		}()
	}
	wg.Wait()

	got, _ := d.LastModified(key)
	assert.True(t, got.Equal(now.Add(49*time.Millisecond)))
}
