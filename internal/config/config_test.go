// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "mealfix", cfg.Logger().ServiceName)
	assert.Equal(t, 5, cfg.Autofix().MaxFixesPerRun)
	assert.True(t, cfg.Autofix().AutoDeployLevel1)
	assert.False(t, cfg.Autofix().AutoDeployLevel2)
	assert.Equal(t, 0.7, cfg.Autofix().MinConfidenceThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Autofix().StepTimeout)
	assert.Equal(t, BranchStrategyTimestamp, cfg.Autofix().BranchStrategy)
	assert.Equal(t, []string{"npx", "playwright", "test", "--reporter=json"}, cfg.Tests().Command)
	assert.Equal(t, "test-results.json", cfg.Tests().ResultsFile)
	assert.Equal(t, int64(50*1024*1024), cfg.Tests().MaxOutputSize)
	assert.Equal(t, "qa-ready", cfg.Deploy().StagingBranch)
	assert.Equal(t, "main", cfg.Deploy().ProductionBranch)
	assert.Equal(t, 10*time.Second, cfg.Deploy().HealthTimeout)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Autofix Validation", func(t *testing.T) {
		valid := NewDefaultConfig().AutofixCfg
		assert.NoError(t, valid.Validate())

		noFixes := valid
		noFixes.MaxFixesPerRun = 0
		err := noFixes.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_fixes_per_run must be a positive integer")

		badThreshold := valid
		badThreshold.MinConfidenceThreshold = 1.1
		err = badThreshold.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "min_confidence_threshold must be between 0.0 and 1.0")

		badStrategy := valid
		badStrategy.BranchStrategy = "random"
		err = badStrategy.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "branch_strategy")

		prsWithoutRepo := valid
		prsWithoutRepo.GitHub.CreatePRs = true
		err = prsWithoutRepo.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "github.repo_owner and github.repo_name are required")
	})

	t.Run("Tests Validation", func(t *testing.T) {
		valid := NewDefaultConfig().TestsCfg

		noCmd := valid
		noCmd.Command = nil
		assert.ErrorContains(t, noCmd.Validate(), "command must not be empty")

		badFormat := valid
		badFormat.Format = "tap"
		assert.ErrorContains(t, badFormat.Validate(), "format must be one of")
	})

	t.Run("Deploy Validation", func(t *testing.T) {
		valid := NewDefaultConfig().DeployCfg

		noImage := valid
		noImage.DockerEnabled = true
		noImage.DockerImage = ""
		assert.ErrorContains(t, noImage.Validate(), "docker_image is required")

		noTimeout := valid
		noTimeout.HealthTimeout = 0
		assert.ErrorContains(t, noTimeout.Validate(), "health_timeout must be a positive duration")
	})

	t.Run("Unknown Provider", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.LLMCfg.Provider = "ollama"
		assert.ErrorContains(t, cfg.Validate(), "llm.provider must be one of")
	})
}

// -- Provider Resolution --

func TestResolveProvider(t *testing.T) {
	t.Run("prefers anthropic when several keys exist", func(t *testing.T) {
		l := LLMConfig{
			Anthropic: LLMProviderConfig{APIKey: "a"},
			OpenAI:    LLMProviderConfig{APIKey: "o"},
		}
		p, err := l.ResolveProvider()
		require.NoError(t, err)
		assert.Equal(t, ProviderAnthropic, p)
	})

	t.Run("falls through to openai", func(t *testing.T) {
		l := LLMConfig{OpenAI: LLMProviderConfig{APIKey: "o"}}
		p, err := l.ResolveProvider()
		require.NoError(t, err)
		assert.Equal(t, ProviderOpenAI, p)
	})

	t.Run("explicit provider without key", func(t *testing.T) {
		l := LLMConfig{Provider: ProviderGemini, OpenAI: LLMProviderConfig{APIKey: "o"}}
		_, err := l.ResolveProvider()
		assert.ErrorContains(t, err, "no API key is set")
	})

	t.Run("no keys at all", func(t *testing.T) {
		_, err := LLMConfig{}.ResolveProvider()
		assert.ErrorContains(t, err, "no LLM API key configured")
	})
}

// -- Viper Integration --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("yaml overrides defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yaml := []byte(`
autofix:
  max_fixes_per_run: 2
  branch_strategy: reuse
deploy:
  health_urls:
    - http://localhost:4000/health
tests:
  format: vitest
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yaml)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Autofix().MaxFixesPerRun)
		assert.Equal(t, BranchStrategyReuse, cfg.Autofix().BranchStrategy)
		assert.Equal(t, []string{"http://localhost:4000/health"}, cfg.Deploy().HealthURLs)
		assert.Equal(t, "vitest", cfg.Tests().Format)
	})

	t.Run("environment variables are bound", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
		t.Setenv("MAX_FIXES_PER_RUN", "7")
		t.Setenv("AUTO_DEPLOY_LEVEL1", "false")
		t.Setenv("AUTO_DEPLOY_LEVEL2", "true")

		v := viper.New()
		SetDefaults(v)
		BindEnvironment(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "sk-ant-test", cfg.LLM().Anthropic.APIKey)
		assert.Equal(t, 7, cfg.Autofix().MaxFixesPerRun)
		assert.False(t, cfg.Autofix().AutoDeployLevel1)
		assert.True(t, cfg.Autofix().AutoDeployLevel2)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("autofix.max_fixes_per_run", -1)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetMaxFixesPerRun(1)
	iface.SetDryRun(true)
	iface.SetProjectRoot("/srv/app")

	assert.Equal(t, 1, iface.Autofix().MaxFixesPerRun)
	assert.True(t, iface.Autofix().DryRun)
	assert.Equal(t, "/srv/app", iface.Autofix().ProjectRoot)
}
