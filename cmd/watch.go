// cmd/watch.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix/coroner"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/observability"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/reporting"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

// pipeline is the part of autofix.Fixer the watch loop triggers.
type pipeline interface {
	Run(ctx context.Context) (*autofix.FixImplementationReport, error)
	FixIssues(ctx context.Context, issues []autofix.DetectedIssue, baseline *testrunner.Summary) *autofix.FixImplementationReport
}

// scheduleParser accepts standard five-field expressions and descriptors
// such as @hourly or @every 30m.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// watchOptions selects the triggers of a watch loop. Empty fields disable
// the corresponding trigger.
type watchOptions struct {
	Schedule     string
	ResultsFile  string
	ResultFormat testrunner.Format
	ProjectRoot  string
	Debounce     time.Duration
	// Quiet ignores results file changes for this long after a run, so the
	// suite re-runs made by verification do not trigger another run.
	Quiet time.Duration
}

// watchLoop runs the fixer on a schedule, when the results file changes and
// for every crash the server log watcher reports. Only one run is active at
// a time.
type watchLoop struct {
	logger   *zap.Logger
	fixer    pipeline
	opts     watchOptions
	onReport func(*autofix.FixImplementationReport)
	issues   chan autofix.DetectedIssue
	crashes  autofix.WatcherInterface

	// runMu is held for the duration of a run.
	runMu  sync.Mutex
	closed bool
	// mu guards quietUntil.
	mu         sync.Mutex
	quietUntil time.Time
	wg         sync.WaitGroup
	now        func() time.Time
}

func newWatchLoop(logger *zap.Logger, fixer pipeline, opts watchOptions, onReport func(*autofix.FixImplementationReport)) *watchLoop {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if onReport == nil {
		onReport = func(*autofix.FixImplementationReport) {}
	}
	return &watchLoop{
		logger:   logger.Named("watch"),
		fixer:    fixer,
		opts:     opts,
		onReport: onReport,
		issues:   make(chan autofix.DetectedIssue, 16),
		now:      time.Now,
	}
}

// Run blocks until ctx is done, then waits for the active run to finish.
func (w *watchLoop) Run(ctx context.Context) error {
	if w.opts.Schedule == "" && w.opts.ResultsFile == "" && w.crashes == nil {
		return errors.New("nothing to watch: set a schedule, a results file or a server log")
	}

	var scheduler *cron.Cron
	if w.opts.Schedule != "" {
		scheduler = cron.New(cron.WithParser(scheduleParser))
		if _, err := scheduler.AddFunc(w.opts.Schedule, func() { w.trigger(ctx, "schedule") }); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", w.opts.Schedule, err)
		}
		scheduler.Start()
		w.logger.Info("Scheduled fix runs.", zap.String("schedule", w.opts.Schedule))
	}

	var reports *autofix.ReportWatcher
	if w.opts.ResultsFile != "" {
		var err error
		reports, err = autofix.NewReportWatcher(w.logger, w.opts.ResultsFile, func(path string) { w.resultsChanged(ctx, path) })
		if err == nil {
			reports.SetDebounce(w.opts.Debounce)
			err = reports.Start(ctx)
		}
		if err != nil {
			if scheduler != nil {
				<-scheduler.Stop().Done()
			}
			return fmt.Errorf("failed to watch results file: %w", err)
		}
	}

	if w.crashes != nil {
		if err := w.crashes.Start(ctx); err != nil {
			w.logger.Error("Server log watcher did not start.", zap.Error(err))
		} else {
			w.wg.Add(1)
			go w.crashLoop(ctx)
		}
	}

	<-ctx.Done()
	w.logger.Info("Stopping watch loop.")
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if reports != nil {
		reports.Stop()
	}
	w.wg.Wait()

	// Wait for a run that is still unwinding and refuse new ones.
	w.runMu.Lock()
	w.closed = true
	w.runMu.Unlock()
	return nil
}

// trigger starts a full run unless one is already active.
func (w *watchLoop) trigger(ctx context.Context, reason string) {
	if !w.begin(reason) {
		return
	}
	defer w.end()

	report, err := w.fixer.Run(ctx)
	if err != nil {
		w.logger.Error("Fix run failed.", zap.String("trigger", reason), zap.Error(err))
		return
	}
	w.onReport(report)
}

// resultsChanged fixes the failures recorded in a results file written by
// someone else, without running the suite again.
func (w *watchLoop) resultsChanged(ctx context.Context, path string) {
	w.mu.Lock()
	quiet := w.now().Before(w.quietUntil)
	w.mu.Unlock()
	if quiet {
		w.logger.Debug("Ignoring results written by our own run.", zap.String("path", path))
		return
	}

	summary, err := testrunner.LoadFile(path, w.opts.ResultFormat)
	if err != nil {
		w.logger.Warn("Could not read changed results file.", zap.String("path", path), zap.Error(err))
		return
	}
	issues := autofix.IssuesFromSummary(summary, coroner.NewParser(w.opts.ProjectRoot), w.now())
	if len(issues) == 0 {
		w.logger.Info("Results file changed; no failing tests.", zap.Int("total", summary.Total))
		return
	}

	if !w.begin("results") {
		return
	}
	defer w.end()
	w.onReport(w.fixer.FixIssues(ctx, issues, summary))
}

// crashLoop processes server crashes one at a time. Crashes are never
// dropped; they wait for the active run.
func (w *watchLoop) crashLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case issue := <-w.issues:
			w.runMu.Lock()
			if w.closed {
				w.runMu.Unlock()
				return
			}
			w.logger.Info("Starting fix run.", zap.String("trigger", "crash"), zap.String("issue_id", issue.ID))
			report := w.fixer.FixIssues(ctx, []autofix.DetectedIssue{issue}, nil)
			w.end()
			w.onReport(report)
		}
	}
}

func (w *watchLoop) begin(reason string) bool {
	if !w.runMu.TryLock() {
		w.logger.Info("Run already in progress; skipping trigger.", zap.String("trigger", reason))
		return false
	}
	if w.closed {
		w.runMu.Unlock()
		return false
	}
	w.logger.Info("Starting fix run.", zap.String("trigger", reason))
	return true
}

func (w *watchLoop) end() {
	w.mu.Lock()
	w.quietUntil = w.now().Add(w.opts.Quiet)
	w.mu.Unlock()
	w.runMu.Unlock()
}

func newWatchCmd() *cobra.Command {
	var onChange bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep running: fix on a schedule, on new test results and on server crashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			components, err := initializeFixComponents(ctx, cfg, logger, true)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return err
			}
			defer components.Shutdown()

			root := cfg.Autofix().ProjectRoot
			opts := watchOptions{
				Schedule:     cfg.Autofix().Schedule,
				ResultFormat: testrunner.Format(cfg.Tests().Format),
				ProjectRoot:  root,
				Quiet:        10 * time.Second,
			}
			if onChange {
				opts.ResultsFile = components.Tests.ResultsFile()
			}
			dir := projectPath(root, cfg.Autofix().ResultsDir)
			loop := newWatchLoop(logger, components.Fixer, opts, func(report *autofix.FixImplementationReport) {
				if path, err := reporting.WriteFixReport(dir, report); err != nil {
					logger.Error("Failed to save fix report.", zap.Error(err))
				} else {
					logger.Info("Fix report saved.", zap.String("path", path), zap.Int("succeeded", report.Succeeded))
				}
			})
			if cfg.Autofix().ServerLog != "" {
				crashes, err := autofix.NewServerLogWatcher(logger, cfg, loop.issues)
				if err != nil {
					return err
				}
				loop.crashes = crashes
			}
			return loop.Run(ctx)
		},
	}
	cmd.Flags().String("schedule", "", "cron expression or descriptor for full runs, e.g. \"0 */2 * * *\" or \"@every 1h\"")
	cmd.Flags().String("server-log", "", "dev server log to tail for crashes")
	cmd.Flags().BoolVar(&onChange, "on-change", true, "fix failures whenever the test results file is rewritten")
	return cmd
}
