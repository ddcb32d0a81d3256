// cmd/prune.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/gitops"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/observability"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/shell"
)

// branchLister is the read side used to find stale fix branches.
type branchLister interface {
	ListBranches(prefix string) ([]gitops.BranchInfo, error)
	Head() (hash, branch string, err error)
}

// branchDeleter removes local branches.
type branchDeleter interface {
	DeleteBranch(ctx context.Context, name string, force bool) (gitops.Result, error)
}

type pruneOptions struct {
	Prefix    string
	OlderThan time.Duration
	DryRun    bool
	Now       time.Time
}

func newPruneCmd() *cobra.Command {
	var (
		olderThan time.Duration
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete local fix branches whose last commit is older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			root := cfg.Autofix().ProjectRoot

			inspector, err := gitops.OpenInspector(root)
			if err != nil {
				return err
			}
			git := gitops.New(root, shell.ExecRunner{}, gitops.Identity{}, logger)
			return runPrune(cmd.Context(), cmd.OutOrStdout(), inspector, git, pruneOptions{
				Prefix:    cfg.Autofix().BranchPrefix,
				OlderThan: olderThan,
				DryRun:    dryRun,
				Now:       time.Now(),
			}, logger)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "minimum age of the branch's last commit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the branches without deleting them")
	return cmd
}

// runPrune deletes stale fix branches. The checked out branch is never
// deleted. Every failure is reported and the rest are still attempted.
func runPrune(ctx context.Context, out io.Writer, lister branchLister, git branchDeleter, opts pruneOptions, logger *zap.Logger) error {
	branches, err := lister.ListBranches(opts.Prefix)
	if err != nil {
		return err
	}
	_, current, err := lister.Head()
	if err != nil {
		return err
	}

	cutoff := opts.Now.Add(-opts.OlderThan)
	var errs []error
	pruned := 0
	for _, b := range branches {
		if b.Name == current || b.CommitTime.After(cutoff) {
			continue
		}
		if opts.DryRun {
			fmt.Fprintf(out, "would delete %s (%s)\n", b.Name, b.CommitTime.Format(time.DateOnly))
			pruned++
			continue
		}
		if _, err := git.DeleteBranch(ctx, b.Name, true); err != nil {
			logger.Warn("Could not delete fix branch.", zap.String("branch", b.Name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "deleted %s\n", b.Name)
		pruned++
	}
	if pruned == 0 && len(errs) == 0 {
		fmt.Fprintln(out, "No stale fix branches.")
	}
	return errors.Join(errs...)
}
