// Package syncer keeps a device's view of its families current: it listens
// on the change feed, polls as a fallback, and runs periodic maintenance.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"screentime/internal/changefeed"
	"screentime/internal/models"
)

const (
	DefaultPollInterval        = 30 * time.Second
	DefaultMaintenanceInterval = time.Hour
	DefaultDebounceInterval    = 2 * time.Second
	DefaultStoreTimeout        = 15 * time.Second
)

// Coordinator handles record changes made elsewhere.
type Coordinator interface {
	HandleRemoteChange(ctx context.Context, n changefeed.Notification) (models.ConflictState, error)
}

// ActivityLog is the part of the activity log the manager drives.
type ActivityLog interface {
	HandleBackgroundFetch(ctx context.Context, familyID string) ([]models.ParentActivity, error)
	CleanupOldActivities(ctx context.Context) (int64, error)
	RetryPending(ctx context.Context) (int, error)
}

// Options configures a Manager. Zero durations select the defaults.
type Options struct {
	Families            []string
	DeviceID            string
	PollInterval        time.Duration
	MaintenanceInterval time.Duration
	DebounceInterval    time.Duration
	StoreTimeout        time.Duration
	Logger              *zap.Logger
}

// Manager runs the per-family sync loops.
type Manager struct {
	feed        changefeed.Feed
	coordinator Coordinator
	activity    ActivityLog
	changes     *ChangeDetector

	families     []string
	deviceID     string
	poll         time.Duration
	maintenance  time.Duration
	debounce     time.Duration
	storeTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time

	fetches   singleflight.Group
	mu        sync.Mutex
	lastFetch map[string]time.Time
}

// NewManager creates a manager. feed and changes may be nil, which disables
// the push subscription and record change detection respectively.
func NewManager(feed changefeed.Feed, coordinator Coordinator, activity ActivityLog, changes *ChangeDetector, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		feed:         feed,
		coordinator:  coordinator,
		activity:     activity,
		changes:      changes,
		families:     append([]string(nil), opts.Families...),
		deviceID:     opts.DeviceID,
		poll:         orDefault(opts.PollInterval, DefaultPollInterval),
		maintenance:  orDefault(opts.MaintenanceInterval, DefaultMaintenanceInterval),
		debounce:     orDefault(opts.DebounceInterval, DefaultDebounceInterval),
		storeTimeout: orDefault(opts.StoreTimeout, DefaultStoreTimeout),
		logger:       logger.Named("syncer"),
		now:          time.Now,
		lastFetch:    make(map[string]time.Time),
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Run blocks until ctx is done or a loop fails to start.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, familyID := range m.families {
		familyID := familyID
		g.Go(func() error { return m.watch(ctx, familyID) })
		g.Go(func() error { return m.pollLoop(ctx, familyID) })
	}
	g.Go(func() error { return m.maintenanceLoop(ctx) })

	m.logger.Info("sync manager started",
		zap.Strings("families", m.families),
		zap.Duration("poll_interval", m.poll),
		zap.Duration("maintenance_interval", m.maintenance))

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Manager) watch(ctx context.Context, familyID string) error {
	if m.feed == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	notes, err := m.feed.Subscribe(ctx, familyID, changefeed.Origin{DeviceID: m.deviceID})
	if err != nil {
		return err
	}
	for n := range notes {
		if n.RecordType == models.RecordTypeParentActivity {
			if _, err := m.TriggerFetch(ctx, familyID); err != nil {
				m.logger.Warn("background fetch failed", zap.String("family_id", familyID), zap.Error(err))
			}
			continue
		}
		m.handle(ctx, n)
	}
	return ctx.Err()
}

func (m *Manager) pollLoop(ctx context.Context, familyID string) error {
	m.SyncFamily(ctx, familyID)

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.SyncFamily(ctx, familyID)
		}
	}
}

func (m *Manager) maintenanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.maintenance)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Maintain(ctx)
		}
	}
}

// SyncFamily runs one poll cycle: a background activity fetch followed by
// record change detection.
func (m *Manager) SyncFamily(ctx context.Context, familyID string) {
	if _, err := m.TriggerFetch(ctx, familyID); err != nil {
		m.logger.Warn("background fetch failed", zap.String("family_id", familyID), zap.Error(err))
	}
	if m.changes == nil {
		return
	}

	dctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	notes, err := m.changes.Detect(dctx, familyID)
	cancel()
	if err != nil {
		m.logger.Warn("change detection failed", zap.String("family_id", familyID), zap.Error(err))
		return
	}
	for _, n := range notes {
		m.handle(ctx, n)
	}
}

// TriggerFetch runs a background fetch for familyID. Concurrent triggers
// share one fetch, and a trigger within the debounce interval of the last
// completed fetch is skipped and returns nil.
func (m *Manager) TriggerFetch(ctx context.Context, familyID string) ([]models.ParentActivity, error) {
	m.mu.Lock()
	last, ok := m.lastFetch[familyID]
	m.mu.Unlock()
	if ok && m.now().Sub(last) < m.debounce {
		return nil, nil
	}

	v, err, _ := m.fetches.Do(familyID, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
		defer cancel()
		activities, err := m.activity.HandleBackgroundFetch(fctx, familyID)

		m.mu.Lock()
		m.lastFetch[familyID] = m.now()
		m.mu.Unlock()
		return activities, err
	})
	if err != nil {
		return nil, err
	}
	activities, _ := v.([]models.ParentActivity)
	return activities, nil
}

// Maintain runs activity retention cleanup and retries queued audit writes.
func (m *Manager) Maintain(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	removed, err := m.activity.CleanupOldActivities(cctx)
	cancel()
	if err != nil {
		m.logger.Warn("activity cleanup failed", zap.Error(err))
	} else if removed > 0 {
		m.logger.Info("activity cleanup", zap.Int64("removed", removed))
	}

	rctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	written, err := m.activity.RetryPending(rctx)
	cancel()
	if err != nil {
		m.logger.Warn("audit retry failed", zap.Int("written", written), zap.Error(err))
	}
}

func (m *Manager) handle(ctx context.Context, n changefeed.Notification) {
	hctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()
	state, err := m.coordinator.HandleRemoteChange(hctx, n)
	if err != nil {
		m.logger.Warn("remote change failed",
			zap.String("record", n.Key().String()),
			zap.Error(err))
		return
	}
	if state != models.StateClean {
		m.logger.Info("remote change resolved",
			zap.String("record", n.Key().String()),
			zap.String("state", string(state)))
	}
}
