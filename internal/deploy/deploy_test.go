package deploy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v58/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/gitops"
)

type mockGit struct {
	mock.Mock
}

func (m *mockGit) result(args mock.Arguments) (gitops.Result, error) {
	res, _ := args.Get(0).(gitops.Result)
	return res, args.Error(1)
}

func (m *mockGit) Checkout(ctx context.Context, branch string) (gitops.Result, error) {
	return m.result(m.Called(branch))
}

func (m *mockGit) Pull(ctx context.Context, remote, branch string) (gitops.Result, error) {
	return m.result(m.Called(remote, branch))
}

func (m *mockGit) Merge(ctx context.Context, branch string, noFF bool, message string) (gitops.Result, error) {
	return m.result(m.Called(branch, noFF, message))
}

func (m *mockGit) AbortMerge(ctx context.Context) (gitops.Result, error) {
	return m.result(m.Called())
}

func (m *mockGit) Push(ctx context.Context, remote, branch string, setUpstream bool) (gitops.Result, error) {
	return m.result(m.Called(remote, branch, setUpstream))
}

func (m *mockGit) CurrentBranch(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockGit) HeadSHA(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

type mockShell struct {
	mock.Mock
}

func (m *mockShell) Run(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, []byte, int, error) {
	call := m.Called(name, args)
	stdout, _ := call.Get(0).([]byte)
	return stdout, nil, call.Int(1), call.Error(2)
}

func deployConfig() config.DeployConfig {
	return config.DeployConfig{
		StagingBranch:    "qa-ready",
		ProductionBranch: "main",
		Remote:           "origin",
		DockerImage:      "fitnessmealplanner",
		HealthTimeout:    time.Second,
	}
}

const sha = "0123456789abcdef0123456789abcdef01234567"

func ok() gitops.Result { return gitops.Result{Success: true} }

func expectHappyMerge(g *mockGit, branch, target string) {
	g.On("CurrentBranch").Return(branch, nil)
	g.On("Checkout", target).Return(ok(), nil).Once()
	g.On("Pull", "origin", target).Return(ok(), nil)
	g.On("Merge", branch, true, "Merge "+branch+" into "+target+" (automated fix)").Return(ok(), nil)
	g.On("HeadSHA").Return(sha, nil)
	g.On("Push", "origin", target, false).Return(ok(), nil)
	g.On("Checkout", branch).Return(ok(), nil).Once()
}

func TestTargetBranch(t *testing.T) {
	cfg := deployConfig()
	assert.Equal(t, "qa-ready", TargetBranch(EnvDevelopment, cfg))
	assert.Equal(t, "qa-ready", TargetBranch(EnvStaging, cfg))
	assert.Equal(t, "main", TargetBranch(EnvProduction, cfg))
}

func TestParseEnvironment(t *testing.T) {
	env, err := ParseEnvironment("Prod")
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, env)
	_, err = ParseEnvironment("moon")
	assert.Error(t, err)
}

func TestDeploy_StagingUsesQAReadyWithNoFF(t *testing.T) {
	g := new(mockGit)
	expectHappyMerge(g, "fix/auto-login-1", "qa-ready")
	d := NewDeployer(g, new(mockShell), "/repo", deployConfig(), zaptest.NewLogger(t))

	res, err := d.Deploy(context.Background(), "fix/auto-login-1", EnvStaging)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "qa-ready", res.TargetBranch)
	assert.Equal(t, sha, res.CommitSHA)
	g.AssertExpectations(t)
}

func TestDeploy_ProductionDockerFailureIsPartial(t *testing.T) {
	g := new(mockGit)
	expectHappyMerge(g, "fix/auto-x-1", "main")
	sh := new(mockShell)
	sh.On("Run", "docker", []string{"build", "-t", "fitnessmealplanner:0123456789ab", "."}).
		Return([]byte("Cannot connect to the Docker daemon"), 1, errors.New("exit status 1"))

	cfg := deployConfig()
	cfg.DockerEnabled = true
	d := NewDeployer(g, sh, "/repo", cfg, zaptest.NewLogger(t))

	res, err := d.Deploy(context.Background(), "fix/auto-x-1", EnvProduction)
	require.NoError(t, err, "partial deployment is not an error")
	assert.Equal(t, StatusPartial, res.Status)
	assert.Contains(t, res.Error, "docker-build")
	last := res.Steps[len(res.Steps)-1]
	assert.Equal(t, "docker-build", last.Name)
	assert.False(t, last.Success)
	g.AssertExpectations(t)
}

func TestDeploy_ProductionDockerWithRegistry(t *testing.T) {
	g := new(mockGit)
	expectHappyMerge(g, "fix/auto-x-1", "main")
	sh := new(mockShell)
	sh.On("Run", "docker", mock.Anything).Return(nil, 0, nil)

	cfg := deployConfig()
	cfg.DockerEnabled = true
	cfg.DockerRegistry = "ghcr.io/evofit/"
	d := NewDeployer(g, sh, "/repo", cfg, zaptest.NewLogger(t))

	res, err := d.Deploy(context.Background(), "fix/auto-x-1", EnvProduction)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "ghcr.io/evofit/fitnessmealplanner:0123456789ab", res.Image)
	sh.AssertCalled(t, "Run", "docker", []string{"push", "ghcr.io/evofit/fitnessmealplanner:latest"})
	sh.AssertNumberOfCalls(t, "Run", 5)
}

func TestDeploy_StagingNeverBuildsImages(t *testing.T) {
	g := new(mockGit)
	expectHappyMerge(g, "fix/auto-x-1", "qa-ready")
	sh := new(mockShell)
	cfg := deployConfig()
	cfg.DockerEnabled = true
	d := NewDeployer(g, sh, "/repo", cfg, zaptest.NewLogger(t))

	_, err := d.Deploy(context.Background(), "fix/auto-x-1", EnvStaging)
	require.NoError(t, err)
	sh.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestDeploy_HealthCheckAfterPush(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	t.Run("healthy endpoints keep the deployment successful", func(t *testing.T) {
		g := new(mockGit)
		expectHappyMerge(g, "fix/auto-x-1", "qa-ready")
		cfg := deployConfig()
		cfg.HealthURLs = []string{healthy.URL + "/api/health"}
		d := NewDeployer(g, new(mockShell), "/repo", cfg, zaptest.NewLogger(t))

		res, err := d.Deploy(context.Background(), "fix/auto-x-1", EnvStaging)
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, res.Status)
		require.Len(t, res.Health, 1)
		assert.True(t, res.Health[0].Healthy)
		assert.Empty(t, res.Error)
	})

	t.Run("an unhealthy endpoint makes it partial", func(t *testing.T) {
		g := new(mockGit)
		expectHappyMerge(g, "fix/auto-x-1", "qa-ready")
		cfg := deployConfig()
		cfg.HealthURLs = []string{healthy.URL, broken.URL}
		d := NewDeployer(g, new(mockShell), "/repo", cfg, zaptest.NewLogger(t))

		res, err := d.Deploy(context.Background(), "fix/auto-x-1", EnvStaging)
		require.NoError(t, err, "the merge stays in place")
		assert.Equal(t, StatusPartial, res.Status)
		require.Len(t, res.Health, 2)
		assert.False(t, res.Health[1].Healthy)
		assert.Equal(t, http.StatusBadGateway, res.Health[1].StatusCode)
		assert.Contains(t, res.Error, ErrUnhealthy.Error())
		assert.Contains(t, res.Error, broken.URL)
		g.AssertExpectations(t)
	})

	t.Run("no check without health URLs", func(t *testing.T) {
		g := new(mockGit)
		expectHappyMerge(g, "fix/auto-x-1", "qa-ready")
		d := NewDeployer(g, new(mockShell), "/repo", deployConfig(), zaptest.NewLogger(t))

		res, err := d.Deploy(context.Background(), "fix/auto-x-1", EnvStaging)
		require.NoError(t, err)
		assert.Nil(t, res.Health)
	})
}

func TestDeploy_MergeConflictAbortsAndFails(t *testing.T) {
	g := new(mockGit)
	g.On("CurrentBranch").Return("fix/auto-x-1", nil)
	g.On("Checkout", "qa-ready").Return(ok(), nil)
	g.On("Pull", "origin", "qa-ready").Return(ok(), nil)
	conflict := &gitops.CommandError{Op: "merge", ExitCode: 1, Kind: gitops.ErrMergeConflict}
	g.On("Merge", "fix/auto-x-1", true, mock.Anything).Return(gitops.Result{}, conflict)
	g.On("AbortMerge").Return(ok(), nil)
	g.On("Checkout", "fix/auto-x-1").Return(ok(), nil)

	d := NewDeployer(g, new(mockShell), "/repo", deployConfig(), zaptest.NewLogger(t))
	res, err := d.Deploy(context.Background(), "fix/auto-x-1", EnvDevelopment)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeployFailed)
	assert.ErrorIs(t, err, gitops.ErrMergeConflict)
	assert.Equal(t, StatusFailed, res.Status)
	g.AssertCalled(t, "AbortMerge")
	g.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
	g.AssertCalled(t, "Checkout", "fix/auto-x-1")
}

func TestPolicy(t *testing.T) {
	p := Policy{AutoDeployLevel1: true, AutoDeployLevel2: false}
	assert.True(t, p.CanAutoDeploy(1))
	assert.False(t, p.CanAutoDeploy(2))
	assert.Equal(t, DecisionManualDeploy, p.Decide(2))
	assert.False(t, p.CanAutoDeploy(3))
	assert.True(t, p.RequiresApproval(3))
	assert.Equal(t, DecisionNever, p.Decide(4))
	assert.True(t, p.RequiresApproval(4))
	assert.False(t, p.RequiresApproval(1))

	p.AutoDeployLevel2 = true
	assert.True(t, p.CanAutoDeploy(2))
	assert.False(t, p.CanAutoDeploy(4), "level 4 is never deployed")
}

func TestHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	cfg := deployConfig()
	cfg.HealthTimeout = 200 * time.Millisecond
	cfg.HealthURLs = []string{healthy.URL}
	d := NewDeployer(new(mockGit), new(mockShell), "/repo", cfg, zaptest.NewLogger(t))

	results, err := d.HealthCheck(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Healthy)

	results, err = d.HealthCheck(context.Background(), healthy.URL, broken.URL, slow.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnhealthy)
	assert.True(t, results[0].Healthy)
	assert.Equal(t, http.StatusServiceUnavailable, results[1].StatusCode)
	assert.False(t, results[2].Healthy)
}

func TestGitHubPRCreator(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/evofit/meals/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"head":"fix/auto-x-1"`)
		assert.Contains(t, string(body), `"base":"qa-ready"`)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 42, "html_url": "https://github.com/evofit/meals/pull/42"}`))
	})
	mux.HandleFunc("/repos/evofit/meals/issues/42/labels", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"autofix"}]`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := github.NewClient(nil)
	base, _ := url.Parse(server.URL + "/")
	client.BaseURL = base

	creator := NewGitHubPRCreator(client, "evofit", "meals", zaptest.NewLogger(t))
	res, err := creator.CreatePR(context.Background(), PullRequest{
		Title: "fix: auth login flow", Body: "body", Head: "fix/auto-x-1", Base: "qa-ready", Labels: []string{"autofix"},
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res.Number)
	assert.Equal(t, "https://github.com/evofit/meals/pull/42", res.URL)
}

func TestCLIPRCreator(t *testing.T) {
	sh := new(mockShell)
	sh.On("Run", "gh", []string{"pr", "create", "--title", "t", "--body", "b", "--head", "fix/auto-x-1", "--base", "qa-ready", "--label", "autofix"}).
		Return([]byte("Creating pull request...\nhttps://github.com/evofit/meals/pull/7\n"), 0, nil)

	creator := NewCLIPRCreator("/repo", sh, zaptest.NewLogger(t))
	res, err := creator.CreatePR(context.Background(), PullRequest{Title: "t", Body: "b", Head: "fix/auto-x-1", Base: "qa-ready", Labels: []string{"autofix"}})
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/evofit/meals/pull/7", res.URL)
}

func TestNewPRCreator_FallsBackToCLI(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, isCLI := NewPRCreator(config.GitHubConfig{}, "/repo", nil, logger).(*CLIPRCreator)
	assert.True(t, isCLI)
	_, isAPI := NewPRCreator(config.GitHubConfig{Token: "t", RepoOwner: "o", RepoName: "r"}, "/repo", nil, logger).(*GitHubPRCreator)
	assert.True(t, isAPI)
}
