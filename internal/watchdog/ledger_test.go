package watchdog

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerRoundTrip(t *testing.T) {
	path := LedgerPath(t.TempDir())
	l, err := OpenLedger(path)
	require.NoError(t, err)

	pid := 1234
	rec := l.Get("g1")
	rec.PID = &pid
	rec.Status = StatusRunning
	rec.RestartCount = 2
	rec.LastCheckTime = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	rec.LastStartTime = time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC)
	require.NoError(t, l.Save())

	reloaded, err := OpenLedger(path)
	require.NoError(t, err)
	got := reloaded.Get("g1")
	assert.Equal(t, "g1", got.Group)
	require.NotNil(t, got.PID)
	assert.Equal(t, 1234, *got.PID)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, uint(2), got.RestartCount)
	assert.True(t, got.LastCheckTime.Equal(rec.LastCheckTime))
	assert.True(t, got.LastStartTime.Equal(rec.LastStartTime))
}

func TestLedgerTimestampsAreISO8601(t *testing.T) {
	path := LedgerPath(t.TempDir())
	l, err := OpenLedger(path)
	require.NoError(t, err)
	l.Get("g1").LastCheckTime = time.Date(2026, 8, 30, 12, 30, 15, 0, time.UTC)
	require.NoError(t, l.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "2026-08-30T12:30:15Z", decoded["g1"]["last_check_time"])
}

func TestLedgerGetCreatesUnknownRecord(t *testing.T) {
	l, err := OpenLedger(LedgerPath(t.TempDir()))
	require.NoError(t, err)

	rec := l.Get("fresh")
	assert.Equal(t, StatusUnknown, rec.Status)
	assert.True(t, rec.NeedAlert)
	assert.Nil(t, rec.PID)
	assert.Same(t, rec, l.Get("fresh"), "records are stable across Gets")
}

func TestOpenLedgerMissingFile(t *testing.T) {
	l, err := OpenLedger(LedgerPath(t.TempDir()))
	require.NoError(t, err)
	assert.Empty(t, l.Groups())
}

func TestOpenLedgerCorruptFile(t *testing.T) {
	path := LedgerPath(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte(`{"g1": {"status": "runn`), 0o644))

	l, err := OpenLedger(path)
	assert.Error(t, err, "corruption is reported")
	require.NotNil(t, l)
	assert.Empty(t, l.Groups(), "but the ledger is still usable")
}

func TestLedgerGroupsSorted(t *testing.T) {
	l, err := OpenLedger(LedgerPath(t.TempDir()))
	require.NoError(t, err)
	l.Get("g2")
	l.Get("g1")
	l.Get("g3")
	assert.Equal(t, []string{"g1", "g2", "g3"}, l.Groups())
}
