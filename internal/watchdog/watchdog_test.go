package watchdog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitewatch/internal/alert"
	"sitewatch/internal/pidfile"
)

// fakeSpawner hands out fresh PIDs and, unless told to fail, makes the new
// process visible to the fake inspector and PID file.
type fakeSpawner struct {
	dataDir   string
	inspector *fakeInspector
	nextPID   int
	fail      bool
	started   []string
}

func (f *fakeSpawner) Start(group string) (int, error) {
	f.started = append(f.started, group)
	if f.fail {
		return 0, fmt.Errorf("exec: no such file")
	}
	f.nextPID++
	pid := f.nextPID
	f.inspector.addMonitor(pid, group)
	if err := pidfile.Write(filepath.Join(f.dataDir, group+".pid"), pid); err != nil {
		return 0, err
	}
	return pid, nil
}

type captured struct {
	severity alert.Severity
	category alert.Category
	message  string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []captured
}

func (c *captureNotifier) Send(message string, severity alert.Severity, category alert.Category) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, captured{severity, category, message})
	return true
}

func (c *captureNotifier) all() []captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]captured(nil), c.sent...)
}

func newTestWatchdog(t *testing.T, maxRestarts uint) (*Watchdog, *fakeInspector, *fakeSpawner, *captureNotifier, string) {
	t.Helper()
	dataDir := t.TempDir()
	inspector := newFakeInspector()
	spawner := &fakeSpawner{dataDir: dataDir, inspector: inspector, nextPID: 1000}
	notifier := &captureNotifier{}
	ledger, err := OpenLedger(LedgerPath(dataDir))
	require.NoError(t, err)
	w := &Watchdog{
		Groups:      []string{"g1"},
		Interval:    time.Minute,
		MaxRestarts: maxRestarts,
		Grace:       time.Millisecond,
		Ledger:      ledger,
		Verifier:    NewVerifier(dataDir, inspector, quietLog()),
		Spawner:     spawner,
		Notifier:    notifier,
		Log:         quietLog(),
	}
	return w, inspector, spawner, notifier, dataDir
}

// killMonitor makes a previously running monitor disappear from the fake
// process table and the PID file, as a crash would.
func killMonitor(inspector *fakeInspector, dataDir, group string, pid int) {
	delete(inspector.cmdlines, pid)
	pidfile.Remove(filepath.Join(dataDir, group+".pid"))
}

func TestRestartAttemptIncrementsAndAlerts(t *testing.T) {
	w, _, spawner, notifier, _ := newTestWatchdog(t, 5)

	// restartCount 2, observed dead: restart, count becomes 3, no cap alert.
	rec := w.Ledger.Get("g1")
	rec.Status = StatusStopped
	rec.RestartCount = 2
	rec.LastCheckTime = time.Now().Add(-5 * time.Minute)

	w.CheckAll(context.Background())

	assert.Equal(t, []string{"g1"}, spawner.started)
	assert.Equal(t, uint(3), rec.RestartCount)
	assert.Equal(t, StatusRunning, rec.Status)
	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, alert.Warning, sent[0].severity)
	assert.Equal(t, alert.Process, sent[0].category)
}

func TestMaxRestartsIsTerminalWithOneAlert(t *testing.T) {
	w, _, spawner, notifier, _ := newTestWatchdog(t, 3)

	rec := w.Ledger.Get("g1")
	rec.Status = StatusStopped
	rec.RestartCount = 3
	rec.LastCheckTime = time.Now().Add(-5 * time.Minute)

	// First dead observation past the cap: terminal status, one error alert.
	w.CheckAll(context.Background())
	assert.Equal(t, StatusStoppedMaxRestarts, rec.Status)
	assert.Empty(t, spawner.started, "no restart attempted past the cap")
	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, alert.Error, sent[0].severity)

	// Further passes stay silent.
	w.CheckAll(context.Background())
	w.CheckAll(context.Background())
	assert.Len(t, notifier.all(), 1)
	assert.Empty(t, spawner.started)
}

func TestCrashLoopReachesCap(t *testing.T) {
	w, inspector, spawner, notifier, dataDir := newTestWatchdog(t, 3)

	// The monitor dies before every pass; the watchdog restarts it three
	// times, then gives up on the fourth observation.
	for pass := 0; pass < 4; pass++ {
		if pid := w.Ledger.Get("g1").PID; pid != nil {
			killMonitor(inspector, dataDir, "g1", *pid)
		}
		// Age the record so the startup-window heuristic cannot suppress.
		w.Ledger.Get("g1").LastCheckTime = time.Now().Add(-5 * time.Minute)
		w.CheckAll(context.Background())
	}

	rec := w.Ledger.Get("g1")
	assert.Equal(t, StatusStoppedMaxRestarts, rec.Status)
	assert.Equal(t, uint(3), rec.RestartCount)
	assert.Len(t, spawner.started, 3)

	sent := notifier.all()
	require.Len(t, sent, 4, "three restart warnings plus one cap error")
	assert.Equal(t, alert.Error, sent[3].severity)
}

func TestStartupWindowSuppressesAlertNotRestart(t *testing.T) {
	w, _, spawner, notifier, _ := newTestWatchdog(t, 5)

	rec := w.Ledger.Get("g1")
	rec.Status = StatusStopped
	rec.LastCheckTime = time.Now().Add(-10 * time.Second)

	w.CheckAll(context.Background())

	assert.Equal(t, []string{"g1"}, spawner.started, "restart still attempted")
	assert.Equal(t, uint(1), rec.RestartCount, "restart still counted")
	assert.Empty(t, notifier.all(), "alert suppressed inside the window")
}

func TestRestartFailureAlwaysAlerts(t *testing.T) {
	w, _, spawner, notifier, _ := newTestWatchdog(t, 5)
	spawner.fail = true

	rec := w.Ledger.Get("g1")
	rec.Status = StatusStopped
	rec.LastCheckTime = time.Now().Add(-10 * time.Second) // inside suppression window

	w.CheckAll(context.Background())

	sent := notifier.all()
	require.Len(t, sent, 1, "restart failure overrides suppression")
	assert.Equal(t, alert.Warning, sent[0].severity)
	assert.Equal(t, alert.Process, sent[0].category)
	assert.Equal(t, uint(1), rec.RestartCount)
}

func TestManuallyStoppedGroupLeftAlone(t *testing.T) {
	w, _, spawner, notifier, _ := newTestWatchdog(t, 5)

	rec := w.Ledger.Get("g1")
	rec.Status = StatusStoppedManually

	w.CheckAll(context.Background())

	assert.Empty(t, spawner.started)
	assert.Empty(t, notifier.all())
	assert.Equal(t, StatusStoppedManually, rec.Status)
}

func TestRunningGroupNeedsNothing(t *testing.T) {
	w, inspector, spawner, notifier, dataDir := newTestWatchdog(t, 5)
	writePID(t, dataDir, "g1", 900)
	inspector.addMonitor(900, "g1")

	w.CheckAll(context.Background())

	rec := w.Ledger.Get("g1")
	assert.Equal(t, StatusRunning, rec.Status)
	assert.Empty(t, spawner.started)
	assert.Empty(t, notifier.all())
}

func TestLedgerPersistedAfterPass(t *testing.T) {
	w, inspector, _, _, dataDir := newTestWatchdog(t, 5)
	writePID(t, dataDir, "g1", 901)
	inspector.addMonitor(901, "g1")

	w.CheckAll(context.Background())

	reloaded, err := OpenLedger(LedgerPath(dataDir))
	require.NoError(t, err)
	rec := reloaded.Get("g1")
	assert.Equal(t, StatusRunning, rec.Status)
	require.NotNil(t, rec.PID)
	assert.Equal(t, 901, *rec.PID)
}

func TestWithinStartupWindow(t *testing.T) {
	now := time.Now()
	assert.True(t, withinStartupWindow(StatusStopped, now.Add(-30*time.Second), now))
	assert.False(t, withinStartupWindow(StatusStopped, now.Add(-90*time.Second), now))
	assert.False(t, withinStartupWindow(StatusUnknown, now.Add(-30*time.Second), now))
	assert.False(t, withinStartupWindow(StatusStopped, time.Time{}, now), "never-checked records are not in a startup window")
}
