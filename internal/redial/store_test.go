package redial

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbassil/dialdispatch/internal/domain"
)

func newRecord(phone string, created time.Time) *domain.RedialRecord {
	return &domain.RedialRecord{
		Phone:        phone,
		LeadID:       "lead-" + phone,
		Status:       domain.RedialPending,
		CreatedAt:    created,
		NextEligible: created,
	}
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	s, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.Save(newRecord("15551230001", now)))
	require.NoError(t, s.Save(newRecord("15551230002", now)))

	fresh, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	records, blocklist, err := fresh.Load(now)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Empty(t, blocklist)
	assert.Equal(t, "lead-15551230001", records["15551230001"].LeadID)
}

func TestFileStore_MonthPartitioning(t *testing.T) {
	dir := t.TempDir()
	feb := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	mar := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	s, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.Save(newRecord("15551230001", feb)))
	require.NoError(t, s.Save(newRecord("15551230002", mar)))

	// Membership is fixed by creation month.
	assert.FileExists(t, filepath.Join(dir, "redial-2026-02.json"))
	assert.FileExists(t, filepath.Join(dir, "redial-2026-03.json"))

	// March load sees both partitions (current + previous).
	fresh, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	records, _, err := fresh.Load(mar)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// April load drops the February partition but keeps March.
	fresh2, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	records, _, err = fresh2.Load(mar.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "15551230002", records["15551230002"].Phone)
}

func TestFileStore_CorruptedPartitionSkipped(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	s, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.Save(newRecord("15551230001", now)))

	// Corrupt the previous month's partition.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "redial-2026-02.json"), []byte("{truncated"), 0o644))

	fresh, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	records, _, err := fresh.Load(now)
	require.NoError(t, err, "a corrupted partition must not prevent startup")
	assert.Len(t, records, 1)
}

func TestFileStore_DeleteRewritesPartition(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	s, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	rec := newRecord("15551230001", now)
	require.NoError(t, s.Save(rec))
	require.NoError(t, s.Delete(rec))

	fresh, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	records, _, err := fresh.Load(now)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileStore_Blocklist(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	s, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.SaveBlocklist([]string{"15551239999", "15551238888"}))

	fresh, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	_, blocklist, err := fresh.Load(now)
	require.NoError(t, err)
	assert.True(t, blocklist["15551239999"])
	assert.True(t, blocklist["15551238888"])
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	s, err := NewFileStore(dir, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.Save(newRecord("15551230001", now)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}
