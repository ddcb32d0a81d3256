// cmd/components.go
package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/api/schemas"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/autofix"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/codebase"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/deploy"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/gitops"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/llmclient"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/notify"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/observability"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/shell"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/store"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/testrunner"
)

// fixComponents holds the collaborators of one fixer process.
type fixComponents struct {
	Tests    *testrunner.Runner
	Git      *gitops.Git
	Codebase *codebase.Codebase
	Detector *autofix.Detector
	Fixer    *autofix.Fixer
	Notifier notify.Notifier
	Store    *store.Store
	LLM      schemas.LLMClient
	DBPool   *pgxpool.Pool
}

// Shutdown releases the LLM transport and the database pool.
func (c *fixComponents) Shutdown() {
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			observability.GetLogger().Warn("Error closing LLM client", zap.Error(err))
		}
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
}

// newTestRunner builds the test runner for the configured project.
func newTestRunner(cfg *config.Config, logger *zap.Logger) *testrunner.Runner {
	return testrunner.New(cfg.Autofix().ProjectRoot, cfg.Tests(), nil, logger)
}

// initializeFixComponents wires the full pipeline. The LLM is only created
// when withLLM is set so detect-only commands run without an API key.
func initializeFixComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withLLM bool) (*fixComponents, error) {
	c := &fixComponents{}
	root := cfg.Autofix().ProjectRoot
	sh := shell.ExecRunner{MaxOutput: cfg.Tests().MaxOutputSize}

	c.Tests = newTestRunner(cfg, logger)
	c.Detector = autofix.NewDetector(c.Tests, root, logger)
	if !withLLM {
		return c, nil
	}

	files, err := codebase.New(root, codebase.Options{
		ProtectedPaths: cfg.Autofix().ProtectedPaths,
		LintCommand:    cfg.Tests().LintCommand,
		FormatCommand:  cfg.Tests().FormatCommand,
		Shell:          sh,
	}, logger)
	if err != nil {
		return c, fmt.Errorf("failed to open codebase: %w", err)
	}
	c.Codebase = files

	c.Git = gitops.New(root, sh, gitops.Identity{
		Name:  cfg.Autofix().Git.AuthorName,
		Email: cfg.Autofix().Git.AuthorEmail,
	}, logger)

	c.LLM, err = llmclient.NewClient(ctx, cfg.LLM(), logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	c.Notifier = notify.New(cfg.Notify(), logger)

	deps := autofix.Dependencies{
		Detector:  c.Detector,
		Analyzer:  autofix.NewAnalyzer(logger, c.LLM, files, cfg.Autofix().ContextLines),
		Developer: autofix.NewDeveloper(logger, c.Git, files, c.Tests, cfg.Autofix()),
		Deployer:  deploy.NewDeployer(c.Git, sh, root, cfg.Deploy(), logger),
		Notifier:  c.Notifier,
	}
	if cfg.Autofix().GitHub.CreatePRs {
		deps.PRs = deploy.NewPRCreator(cfg.Autofix().GitHub, root, sh, logger)
	}

	if url := cfg.Database().URL; url != "" {
		st, pool, err := store.Open(ctx, url, logger)
		if err != nil {
			// History only gates retries; the run can go ahead without it.
			logger.Warn("Fix history unavailable; continuing without it.", zap.Error(err))
		} else {
			c.Store, c.DBPool = st, pool
			deps.History = st
		}
	}

	c.Fixer = autofix.NewFixer(logger, cfg, deps)
	return c, nil
}

// projectPath resolves p against the project root.
func projectPath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
