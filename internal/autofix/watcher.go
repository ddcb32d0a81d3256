// internal/autofix/watcher.go
package autofix

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix/coroner"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
)

// -- Regex Definitions --
var (
	// A line that starts a new log entry and so ends any trace being buffered.
	newEntryRegex  = regexp.MustCompile(`^(\d{4}[-/]\d{2}[-/]\d{2}|\[\d{2}:\d{2}:\d{2}|\{.*"(level|msg)":|(INFO|WARN|ERROR|DEBUG)\b|\d{1,2}:\d{2}:\d{2} (AM|PM))`)
	// Uncaught exceptions, unhandled rejections and Error lines printed by Express.
	crashRegex     = regexp.MustCompile(`(Uncaught|Unhandled|uncaughtException|unhandledRejection|^\s*(\w+)?Error: |"level":(50|60)|"level":"(error|fatal)")`)
	frameLineRegex = regexp.MustCompile(`^\s+at |@.+:\d+:\d+$`)
	jsonStackRegex = regexp.MustCompile(`"stack":"((?:[^"\\]|\\.)*)"`)
	jsonMsgRegex   = regexp.MustCompile(`"(?:msg|message)":"((?:[^"\\]|\\.)*)"`)
	errorHeadRegex = regexp.MustCompile(`((?:\w+)?Error: .*)$`)
)

const traceFlushDelay = 100 * time.Millisecond

// ServerLogWatcher tails the dev server log, detects crashes and emits one
// DetectedIssue per stack trace.
type ServerLogWatcher struct {
	logger  *zap.Logger
	logPath string
	parser  *coroner.Parser
	issues  chan<- DetectedIssue
}

// NewServerLogWatcher initializes the watcher. The server log must be
// configured.
func NewServerLogWatcher(logger *zap.Logger, cfg config.Interface, issues chan<- DetectedIssue) (*ServerLogWatcher, error) {
	logPath := cfg.Autofix().ServerLog
	if logPath == "" {
		return nil, fmt.Errorf("autofix.server_log must be configured for crash detection")
	}
	return &ServerLogWatcher{
		logger:  logger.Named("autofix-watcher"),
		logPath: logPath,
		parser:  coroner.NewParser(cfg.Autofix().ProjectRoot),
		issues:  issues,
	}, nil
}

// Start tails the log from its current end in a background goroutine.
func (w *ServerLogWatcher) Start(ctx context.Context) error {
	w.logger.Info("Starting server log watcher...", zap.String("server_log", w.logPath))

	t, err := tail.TailFile(w.logPath, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: 2},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail server log: %w", err)
	}

	go w.monitorLoop(ctx, t)
	return nil
}

// monitorLoop buffers the lines of one trace at a time. A trace ends when a
// new log entry starts or no line arrives for traceFlushDelay.
func (w *ServerLogWatcher) monitorLoop(ctx context.Context, t *tail.Tail) {
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	var trace []string
	timeout := time.NewTimer(traceFlushDelay)
	if !timeout.Stop() {
		<-timeout.C
	}
	stopTimer := func() {
		if !timeout.Stop() {
			select {
			case <-timeout.C:
			default:
			}
		}
	}
	flush := func() {
		if len(trace) == 0 {
			return
		}
		lines := trace
		trace = nil
		w.handleCrash(ctx, lines)
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			flush()
			w.logger.Info("Stopping server log watcher.")
			return

		case line, ok := <-t.Lines:
			if !ok {
				flush()
				w.logger.Info("Server log tailer channel closed.")
				return
			}
			if line.Err != nil {
				w.logger.Warn("Error reading from server log", zap.Error(line.Err))
				continue
			}

			text := line.Text
			isCrash := crashRegex.MatchString(text)
			isFrame := frameLineRegex.MatchString(text)

			if len(trace) > 0 && !isFrame && (isCrash || newEntryRegex.MatchString(text)) {
				stopTimer()
				flush()
			}
			switch {
			case isCrash && len(trace) == 0:
				trace = append(trace, text)
				timeout.Reset(traceFlushDelay)
			case len(trace) > 0:
				trace = append(trace, text)
				timeout.Reset(traceFlushDelay)
			}

		case <-timeout.C:
			flush()
		}
	}
}

// handleCrash turns a buffered trace into an issue. Traces without an
// application frame are dropped.
func (w *ServerLogWatcher) handleCrash(ctx context.Context, lines []string) {
	lines = expandStructured(lines)
	report, err := w.parser.Parse(lines)
	if err != nil {
		w.logger.Debug("Ignoring trace without application frames.", zap.Error(err))
		return
	}

	message := extractCrashMessage(report.Message)
	issue := DetectedIssue{
		ID:            uuid.New().String(),
		Type:          ClassifyType(message, ""),
		Severity:      ClassifySeverity(message + " " + report.FilePath),
		TestName:      "server: " + message,
		ErrorMessage:  message,
		StackTrace:    report.StackTrace,
		SourceFile:    report.FilePath,
		SourceLine:    report.LineNumber,
		AffectedFiles: w.parser.ApplicationFiles(report.StackTrace),
		Timestamp:     time.Now(),
	}
	if issue.Type == IssueUnknown {
		issue.Type = IssueRuntime
	}
	w.logger.Warn("Server crash detected.", zap.String("issue_id", issue.ID), zap.String("file", issue.SourceFile), zap.Int("line", issue.SourceLine))

	select {
	case w.issues <- issue:
	case <-ctx.Done():
		w.logger.Warn("Context cancelled while sending crash issue.", zap.String("issue_id", issue.ID))
	}
}

// expandStructured unpacks a JSON log line (pino, winston) whose stack is
// embedded as an escaped string.
func expandStructured(lines []string) []string {
	first := lines[0]
	if !strings.HasPrefix(strings.TrimSpace(first), "{") {
		return lines
	}
	m := jsonStackRegex.FindStringSubmatch(first)
	if len(m) < 2 {
		return lines
	}
	stack, err := strconv.Unquote(`"` + m[1] + `"`)
	if err != nil {
		return lines
	}
	return append(strings.Split(stack, "\n"), lines[1:]...)
}

func extractCrashMessage(line string) string {
	if strings.HasPrefix(strings.TrimSpace(line), "{") {
		if m := jsonMsgRegex.FindStringSubmatch(line); len(m) > 1 {
			if s, err := strconv.Unquote(`"` + m[1] + `"`); err == nil {
				return strings.TrimSpace(s)
			}
		}
	}
	if m := errorHeadRegex.FindStringSubmatch(line); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(line)
}
