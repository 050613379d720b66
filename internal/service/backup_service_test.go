package service

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"screentime/internal/archive"
	"screentime/internal/models"
)

func TestBackupExport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	b := h.device(t, "device-b", models.StrategyManualSelection)

	b.at(baseTime)
	_, err := b.svc.AdjustPoints(ctx, "bob", h.family.ID, h.child.ID, -5, "screen time overrun")
	require.NoError(t, err)
	require.NoError(t, b.svc.UpdateSettings(ctx, "bob", h.family.ID, map[string]string{"bedtime": "20:00"}))

	svc := NewBackupService(h.store, "sqlite", zaptest.NewLogger(t))

	var buf bytes.Buffer
	require.NoError(t, svc.ExportToWriter(ctx, &buf))

	var backup BackupData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &backup))
	assert.Equal(t, "sqlite", backup.DatabaseType)
	require.Len(t, backup.Families, 1)

	family := backup.Families[0]
	assert.Equal(t, "alice", family.OwnerID)
	assert.Len(t, family.Members, 2)
	require.Len(t, family.Children, 1)
	assert.Equal(t, 45, family.Children[0].PointBalance)
	assert.Equal(t, "20:00", family.Settings["bedtime"])
	assert.Len(t, family.Activities, 2)
}

func TestBackupExportToArchive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	store, err := archive.NewFileStore(t.TempDir())
	require.NoError(t, err)

	svc := NewBackupService(h.store, "sqlite", zaptest.NewLogger(t))
	svc.now = func() time.Time { return baseTime }

	key, err := svc.ExportToArchive(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, archive.BackupKey(baseTime), key)
}
