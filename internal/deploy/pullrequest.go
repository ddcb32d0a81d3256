// internal/deploy/pullrequest.go
package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v58/github"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/shell"
)

// PullRequest is a request to open a PR for a fix branch.
type PullRequest struct {
	Title  string
	Body   string
	Head   string
	Base   string
	Labels []string
}

// PRResult identifies a created pull request.
type PRResult struct {
	Number int    `json:"number,omitempty"`
	URL    string `json:"url"`
}

// PRCreator opens pull requests.
type PRCreator interface {
	CreatePR(ctx context.Context, pr PullRequest) (*PRResult, error)
}

// NewPRCreator returns a GitHub API creator when a token and repository are
// configured, and otherwise falls back to the gh CLI.
func NewPRCreator(cfg config.GitHubConfig, dir string, sh shell.Runner, logger *zap.Logger) PRCreator {
	if cfg.Token != "" && cfg.RepoOwner != "" && cfg.RepoName != "" {
		client := github.NewClient(nil).WithAuthToken(cfg.Token)
		return NewGitHubPRCreator(client, cfg.RepoOwner, cfg.RepoName, logger)
	}
	return NewCLIPRCreator(dir, sh, logger)
}

// GitHubPRCreator uses the GitHub REST API.
type GitHubPRCreator struct {
	client *github.Client
	owner  string
	repo   string
	logger *zap.Logger
}

// NewGitHubPRCreator wraps an authenticated client.
func NewGitHubPRCreator(client *github.Client, owner, repo string, logger *zap.Logger) *GitHubPRCreator {
	return &GitHubPRCreator{client: client, owner: owner, repo: repo, logger: logger.Named("pr.github")}
}

// CreatePR implements PRCreator. Label failures are logged, not returned.
func (g *GitHubPRCreator) CreatePR(ctx context.Context, pr PullRequest) (*PRResult, error) {
	created, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: github.String(pr.Title),
		Head:  github.String(pr.Head),
		Base:  github.String(pr.Base),
		Body:  github.String(pr.Body),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	if len(pr.Labels) > 0 {
		if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, created.GetNumber(), pr.Labels); err != nil {
			g.logger.Warn("Could not label pull request", zap.Int("number", created.GetNumber()), zap.Error(err))
		}
	}

	g.logger.Info("Pull request created", zap.Int("number", created.GetNumber()), zap.String("url", created.GetHTMLURL()))
	return &PRResult{Number: created.GetNumber(), URL: created.GetHTMLURL()}, nil
}

// CLIPRCreator shells out to the gh CLI, which must be installed and
// authenticated.
type CLIPRCreator struct {
	dir    string
	shell  shell.Runner
	logger *zap.Logger
}

// NewCLIPRCreator returns a gh based creator.
func NewCLIPRCreator(dir string, sh shell.Runner, logger *zap.Logger) *CLIPRCreator {
	if sh == nil {
		sh = shell.ExecRunner{}
	}
	return &CLIPRCreator{dir: dir, shell: sh, logger: logger.Named("pr.cli")}
}

// CreatePR implements PRCreator.
func (c *CLIPRCreator) CreatePR(ctx context.Context, pr PullRequest) (*PRResult, error) {
	args := []string{"pr", "create", "--title", pr.Title, "--body", pr.Body, "--head", pr.Head}
	if pr.Base != "" {
		args = append(args, "--base", pr.Base)
	}
	for _, l := range pr.Labels {
		args = append(args, "--label", l)
	}
	stdout, stderr, _, err := c.shell.Run(ctx, c.dir, nil, "gh", args...)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			return nil, fmt.Errorf("gh pr create failed: %w", err)
		}
		return nil, fmt.Errorf("gh pr create failed: %w: %s", err, msg)
	}

	url := lastLine(string(stdout))
	if url == "" {
		return nil, errors.New("gh pr create returned no URL")
	}
	c.logger.Info("Pull request created", zap.String("url", url))
	return &PRResult{URL: url}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
