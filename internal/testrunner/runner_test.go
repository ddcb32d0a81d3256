package testrunner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/shell"
)

type mockShell struct {
	mock.Mock
}

func (m *mockShell) Run(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, []byte, int, error) {
	call := m.Called(dir, name, args)
	stdout, _ := call.Get(0).([]byte)
	stderr, _ := call.Get(1).([]byte)
	return stdout, stderr, call.Int(2), call.Error(3)
}

func testConfig() config.TestsConfig {
	return config.TestsConfig{
		Command:     []string{"npx", "playwright", "test", "--reporter=json"},
		ResultsFile: "test-results.json",
		Format:      "auto",
		Timeout:     time.Minute,
	}
}

func TestRunner_RunAllReadsResultsFile(t *testing.T) {
	root := t.TempDir()
	sh := new(mockShell)
	r := New(root, testConfig(), sh, zaptest.NewLogger(t))

	// A stale report must be removed before the run.
	require.NoError(t, os.WriteFile(r.ResultsFile(), []byte(`{"suites":[]}`), 0o644))

	sh.On("Run", root, "npx", []string{"playwright", "test", "--reporter=json"}).
		Run(func(mock.Arguments) {
			_ = os.WriteFile(filepath.Join(root, "test-results.json"), []byte(playwrightReport), 0o644)
		}).
		Return([]byte("Running 4 tests\n"), nil, 1, nil)

	run, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.ExitCode)
	assert.Equal(t, 4, run.Summary.Total)
	assert.Equal(t, 1, run.Summary.TimedOut)
	sh.AssertExpectations(t)
}

func TestRunner_NonZeroExitIsNotAnError(t *testing.T) {
	root := t.TempDir()
	sh := new(mockShell)
	r := New(root, testConfig(), sh, zaptest.NewLogger(t))

	sh.On("Run", root, "npx", mock.Anything).Return([]byte(playwrightReport), nil, 1, exitErrorFor(t))

	run, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, run.Summary.Total, "stdout report is used when no file exists")
}

// exitErrorFor produces a real *exec.ExitError so shell.IsExitError recognises it.
func exitErrorFor(t *testing.T) error {
	t.Helper()
	_, _, _, err := shell.ExecRunner{}.Run(context.Background(), "", nil, "sh", "-c", "exit 1")
	if err == nil || !shell.IsExitError(err) {
		t.Skip("sh not available to produce an exit error")
	}
	return err
}

func TestRunner_MissingReportYieldsEmptySummaryWithWarning(t *testing.T) {
	root := t.TempDir()
	sh := new(mockShell)
	core, logs := observer.New(zap.WarnLevel)
	r := New(root, testConfig(), sh, zap.New(core))

	sh.On("Run", root, "npx", mock.Anything).Return([]byte("Error: no tests found"), nil, 0, nil)

	run, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run.Summary.Total)
	assert.False(t, run.Summary.AllPassed())
	assert.Equal(t, 1, logs.FilterMessage("No test report found, returning an empty summary").Len())
}

func TestRunner_CorruptReportYieldsEmptySummary(t *testing.T) {
	root := t.TempDir()
	sh := new(mockShell)
	core, logs := observer.New(zap.WarnLevel)
	r := New(root, testConfig(), sh, zap.New(core))

	sh.On("Run", root, "npx", mock.Anything).
		Run(func(mock.Arguments) {
			_ = os.WriteFile(filepath.Join(root, "test-results.json"), []byte("{not json"), 0o644)
		}).
		Return(nil, nil, 1, nil)

	run, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, run.Summary.Total)
	assert.Equal(t, 1, logs.FilterMessage("Results file could not be parsed").Len())
}

func TestRunner_StartFailureIsAnError(t *testing.T) {
	root := t.TempDir()
	sh := new(mockShell)
	r := New(root, testConfig(), sh, zaptest.NewLogger(t))

	sh.On("Run", root, "npx", mock.Anything).Return(nil, nil, -1, shell.ErrOutputTooLarge)

	_, err := r.RunAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, shell.ErrOutputTooLarge))
}

func TestRunner_EmptyCommand(t *testing.T) {
	cfg := testConfig()
	cfg.Command = nil
	r := New(t.TempDir(), cfg, new(mockShell), zaptest.NewLogger(t))
	_, err := r.RunAll(context.Background())
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestRunner_RunSpecific(t *testing.T) {
	root := t.TempDir()

	t.Run("playwright grep", func(t *testing.T) {
		sh := new(mockShell)
		r := New(root, testConfig(), sh, zaptest.NewLogger(t))
		sh.On("Run", root, "npx", []string{"playwright", "test", "--reporter=json", "test/e2e/auth.spec.ts", "--grep", "auth login flow"}).
			Return(nil, nil, 0, nil)

		_, err := r.RunSpecific(context.Background(), "test/e2e/auth.spec.ts", "auth login flow")
		require.NoError(t, err)
		sh.AssertExpectations(t)
	})

	t.Run("vitest name filter", func(t *testing.T) {
		cfg := testConfig()
		cfg.Command = []string{"npx", "vitest", "run", "--reporter=json"}
		cfg.Format = string(FormatVitest)
		sh := new(mockShell)
		r := New(root, cfg, sh, zaptest.NewLogger(t))
		sh.On("Run", root, "npx", []string{"vitest", "run", "--reporter=json", "ingredients.test.ts", "-t", "sums"}).
			Return(nil, nil, 0, nil)

		_, err := r.RunSpecific(context.Background(), "ingredients.test.ts", "sums")
		require.NoError(t, err)
		sh.AssertExpectations(t)
	})
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "junit.xml")
	require.NoError(t, os.WriteFile(xmlPath, []byte(junitReport), 0o644))

	s, err := LoadFile(xmlPath, FormatAuto)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Total)

	_, err = LoadFile(filepath.Join(dir, "missing.json"), FormatAuto)
	assert.Error(t, err)
}
