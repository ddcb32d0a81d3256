// internal/deploy/deploy.go
package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/gitops"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/shell"
)

// Status is the overall outcome of a deployment.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusPartial means the branch was merged and pushed but the container
	// image could not be published or the health check failed afterwards.
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// ErrDeployFailed is wrapped by errors returned for failed deployments.
var ErrDeployFailed = errors.New("deployment failed")

// Step records one action of a deployment.
type Step struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result describes a deployment.
type Result struct {
	Environment  Environment    `json:"environment"`
	SourceBranch string         `json:"source_branch"`
	TargetBranch string         `json:"target_branch"`
	Status       Status         `json:"status"`
	CommitSHA    string         `json:"commit_sha,omitempty"`
	Image        string         `json:"image,omitempty"`
	Health       []HealthResult `json:"health,omitempty"`
	Steps        []Step         `json:"steps"`
	Error        string         `json:"error,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

func (r *Result) record(name string, res gitops.Result, err error) {
	s := Step{Name: name, Success: err == nil, Output: res.Output}
	if err != nil {
		s.Error = err.Error()
	}
	r.Steps = append(r.Steps, s)
}

// GitClient is the subset of gitops.Git a deployment needs.
type GitClient interface {
	Checkout(ctx context.Context, branch string) (gitops.Result, error)
	Pull(ctx context.Context, remote, branch string) (gitops.Result, error)
	Merge(ctx context.Context, branch string, noFF bool, message string) (gitops.Result, error)
	AbortMerge(ctx context.Context) (gitops.Result, error)
	Push(ctx context.Context, remote, branch string, setUpstream bool) (gitops.Result, error)
	CurrentBranch(ctx context.Context) (string, error)
	HeadSHA(ctx context.Context) (string, error)
}

// Deployer merges fix branches into environment branches and publishes
// container images for production.
type Deployer struct {
	git        GitClient
	shell      shell.Runner
	dir        string
	cfg        config.DeployConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewDeployer wires a Deployer. dir is where docker builds run.
func NewDeployer(git GitClient, sh shell.Runner, dir string, cfg config.DeployConfig, logger *zap.Logger) *Deployer {
	if sh == nil {
		sh = shell.ExecRunner{MaxOutput: shell.DefaultMaxOutput}
	}
	timeout := cfg.HealthTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Deployer{
		git:        git,
		shell:      sh,
		dir:        dir,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("deploy"),
	}
}

// Deploy merges branch into the environment's target branch with --no-ff and
// pushes it. Production additionally builds and pushes a container image when
// enabled. The configured health URLs are checked once the push is done. A
// failed image or an unhealthy endpoint yields StatusPartial. The previously
// checked out branch is restored afterwards.
func (d *Deployer) Deploy(ctx context.Context, branch string, env Environment) (*Result, error) {
	start := time.Now()
	target := TargetBranch(env, d.cfg)
	res := &Result{Environment: env, SourceBranch: branch, TargetBranch: target, Status: StatusFailed}
	defer func() { res.Duration = time.Since(start) }()

	log := d.logger.With(zap.String("branch", branch), zap.String("target", target), zap.String("env", string(env)))
	log.Info("Starting deployment")

	if original, err := d.git.CurrentBranch(ctx); err == nil && original != target {
		defer func() {
			if _, err := d.git.Checkout(context.WithoutCancel(ctx), original); err != nil {
				log.Warn("Could not return to original branch", zap.String("original", original), zap.Error(err))
			}
		}()
	}

	gr, err := d.git.Checkout(ctx, target)
	res.record("checkout", gr, err)
	if err != nil {
		return d.fail(res, log, err)
	}

	if d.cfg.Remote != "" {
		gr, err = d.git.Pull(ctx, d.cfg.Remote, target)
		res.record("pull", gr, err)
		if err != nil {
			return d.fail(res, log, err)
		}
	}

	msg := fmt.Sprintf("Merge %s into %s (automated fix)", branch, target)
	gr, err = d.git.Merge(ctx, branch, true, msg)
	res.record("merge", gr, err)
	if err != nil {
		if errors.Is(err, gitops.ErrMergeConflict) {
			if _, abortErr := d.git.AbortMerge(ctx); abortErr != nil {
				log.Error("Failed to abort conflicted merge", zap.Error(abortErr))
			}
		}
		return d.fail(res, log, err)
	}

	if sha, err := d.git.HeadSHA(ctx); err == nil {
		res.CommitSHA = sha
	}

	if d.cfg.Remote != "" {
		gr, err = d.git.Push(ctx, d.cfg.Remote, target, false)
		res.record("push", gr, err)
		if err != nil {
			return d.fail(res, log, err)
		}
	}

	res.Status = StatusSuccess
	var incomplete []string
	if env == EnvProduction && d.cfg.DockerEnabled {
		if err := d.publishImage(ctx, res); err != nil {
			incomplete = append(incomplete, err.Error())
			log.Warn("Branch deployed but image publishing failed", zap.Error(err))
		}
	}
	if len(d.cfg.HealthURLs) > 0 {
		health, err := d.HealthCheck(ctx)
		res.Health = health
		if err != nil {
			incomplete = append(incomplete, err.Error())
			log.Warn("Branch deployed but health check failed", zap.Error(err))
		}
	}
	if len(incomplete) > 0 {
		res.Status = StatusPartial
		res.Error = strings.Join(incomplete, "; ")
		return res, nil
	}

	log.Info("Deployment complete", zap.String("status", string(res.Status)), zap.String("sha", res.CommitSHA))
	return res, nil
}

func (d *Deployer) fail(res *Result, log *zap.Logger, err error) (*Result, error) {
	res.Status = StatusFailed
	res.Error = err.Error()
	log.Error("Deployment failed", zap.Error(err))
	return res, fmt.Errorf("%w: %w", ErrDeployFailed, err)
}

// ImageRef returns the fully qualified image reference for tag.
func (d *Deployer) ImageRef(tag string) string {
	name := d.cfg.DockerImage
	if d.cfg.DockerRegistry != "" {
		name = strings.TrimSuffix(d.cfg.DockerRegistry, "/") + "/" + name
	}
	return name + ":" + tag
}

func (d *Deployer) publishImage(ctx context.Context, res *Result) error {
	tag := "latest"
	if len(res.CommitSHA) >= 12 {
		tag = res.CommitSHA[:12]
	}
	local := d.cfg.DockerImage + ":" + tag
	remote := d.ImageRef(tag)
	latest := d.ImageRef("latest")
	res.Image = remote

	steps := []struct {
		name string
		args []string
	}{
		{"docker-build", []string{"build", "-t", local, "."}},
		{"docker-tag", []string{"tag", local, remote}},
		{"docker-tag-latest", []string{"tag", local, latest}},
		{"docker-push", []string{"push", remote}},
		{"docker-push-latest", []string{"push", latest}},
	}
	for _, s := range steps {
		if d.cfg.DockerRegistry == "" && strings.HasPrefix(s.name, "docker-push") {
			continue
		}
		stdout, stderr, _, err := d.shell.Run(ctx, d.dir, nil, "docker", s.args...)
		out := strings.TrimSpace(stripansi.Strip(string(stdout) + string(stderr)))
		step := Step{Name: s.name, Success: err == nil, Output: truncate(out, 2000)}
		if err != nil {
			step.Error = err.Error()
			res.Steps = append(res.Steps, step)
			return fmt.Errorf("%s: %w", s.name, err)
		}
		res.Steps = append(res.Steps, step)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
