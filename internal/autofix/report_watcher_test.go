package autofix

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestReportWatcher_DebouncesWrites(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	report := filepath.Join(dir, "test-results.json")

	var calls atomic.Int32
	fired := make(chan string, 4)
	rw, err := NewReportWatcher(zaptest.NewLogger(t), report, func(path string) {
		calls.Add(1)
		fired <- path
	})
	require.NoError(t, err)
	rw.SetDebounce(100 * time.Millisecond)
	require.NoError(t, rw.Start(context.Background()))

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(report, []byte(`{"suites":[]}`), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case path := <-fired:
		assert.Equal(t, report, path)
	case <-time.After(3 * time.Second):
		t.Fatal("callback did not fire")
	}
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "a burst of writes fires once")

	rw.Stop()
}

func TestReportWatcher_StopCancelsPending(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	report := filepath.Join(dir, "results.xml")
	var calls atomic.Int32
	rw, err := NewReportWatcher(zaptest.NewLogger(t), report, func(string) { calls.Add(1) })
	require.NoError(t, err)
	rw.SetDebounce(time.Second)
	require.NoError(t, rw.Start(context.Background()))

	require.NoError(t, os.WriteFile(report, []byte("<testsuites/>"), 0o644))
	time.Sleep(100 * time.Millisecond)
	rw.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestReportWatcher_MissingDirectory(t *testing.T) {
	rw, err := NewReportWatcher(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "missing", "r.json"), nil)
	require.NoError(t, err)
	assert.Error(t, rw.Start(context.Background()))
}
