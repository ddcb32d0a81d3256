// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	LLM() LLMConfig
	Autofix() AutofixConfig
	Tests() TestsConfig
	Deploy() DeployConfig
	Notify() NotifyConfig

	// Overrides applied after loading.
	SetMaxFixesPerRun(int)
	SetDryRun(bool)
	SetProjectRoot(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	LLMCfg      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	AutofixCfg  AutofixConfig  `mapstructure:"autofix" yaml:"autofix"`
	TestsCfg    TestsConfig    `mapstructure:"tests" yaml:"tests"`
	DeployCfg   DeployConfig   `mapstructure:"deploy" yaml:"deploy"`
	NotifyCfg   NotifyConfig   `mapstructure:"notify" yaml:"notify"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) LLM() LLMConfig           { return c.LLMCfg }
func (c *Config) Autofix() AutofixConfig   { return c.AutofixCfg }
func (c *Config) Tests() TestsConfig       { return c.TestsCfg }
func (c *Config) Deploy() DeployConfig     { return c.DeployCfg }
func (c *Config) Notify() NotifyConfig     { return c.NotifyCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetMaxFixesPerRun(n int)   { c.AutofixCfg.MaxFixesPerRun = n }
func (c *Config) SetDryRun(b bool)          { c.AutofixCfg.DryRun = b }
func (c *Config) SetProjectRoot(dir string) { c.AutofixCfg.ProjectRoot = dir }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the connection string for the optional fix history store.
// An empty URL disables history tracking.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderOpenAI    LLMProvider = "openai"
	ProviderGemini    LLMProvider = "gemini"
)

// LLMConfig configures model selection and transport for the AI collaborator.
type LLMConfig struct {
	// Provider pins a provider. Empty means the first provider with an API key,
	// in the order anthropic, openai, gemini.
	Provider          LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Anthropic         LLMProviderConfig `mapstructure:"anthropic" yaml:"anthropic"`
	OpenAI            LLMProviderConfig `mapstructure:"openai" yaml:"openai"`
	Gemini            LLMProviderConfig `mapstructure:"gemini" yaml:"gemini"`
	APITimeout        time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxRetryElapsed   time.Duration     `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Temperature       float64           `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// LLMProviderConfig holds credentials and model names for one provider.
type LLMProviderConfig struct {
	APIKey        string `mapstructure:"api_key" yaml:"-"`
	Endpoint      string `mapstructure:"endpoint" yaml:"endpoint"`
	FastModel     string `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel string `mapstructure:"powerful_model" yaml:"powerful_model"`
}

// LLMModel is a fully resolved model definition handed to a client constructor.
type LLMModel struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ProviderConfig returns the provider block for p.
func (l LLMConfig) ProviderConfig(p LLMProvider) (LLMProviderConfig, bool) {
	switch p {
	case ProviderAnthropic:
		return l.Anthropic, true
	case ProviderOpenAI:
		return l.OpenAI, true
	case ProviderGemini:
		return l.Gemini, true
	}
	return LLMProviderConfig{}, false
}

// ResolveProvider picks the provider to use, honoring an explicit choice.
func (l LLMConfig) ResolveProvider() (LLMProvider, error) {
	if l.Provider != "" {
		pc, ok := l.ProviderConfig(l.Provider)
		if !ok {
			return "", fmt.Errorf("unknown llm.provider %q", l.Provider)
		}
		if pc.APIKey == "" {
			return "", fmt.Errorf("llm.provider is %q but no API key is set for it", l.Provider)
		}
		return l.Provider, nil
	}
	for _, p := range []LLMProvider{ProviderAnthropic, ProviderOpenAI, ProviderGemini} {
		if pc, _ := l.ProviderConfig(p); pc.APIKey != "" {
			return p, nil
		}
	}
	return "", fmt.Errorf("no LLM API key configured; set ANTHROPIC_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY")
}

// Branch strategies for fix branches.
const (
	BranchStrategyTimestamp = "timestamp"
	BranchStrategyReuse     = "reuse"
)

// AutofixConfig holds settings for the bug fixing pipeline.
type AutofixConfig struct {
	ProjectRoot            string        `mapstructure:"project_root" yaml:"project_root"`
	ResultsDir             string        `mapstructure:"results_dir" yaml:"results_dir"`
	MaxFixesPerRun         int           `mapstructure:"max_fixes_per_run" yaml:"max_fixes_per_run"`
	AutoDeployLevel1       bool          `mapstructure:"auto_deploy_level1" yaml:"auto_deploy_level1"`
	AutoDeployLevel2       bool          `mapstructure:"auto_deploy_level2" yaml:"auto_deploy_level2"`
	MinConfidenceThreshold float64       `mapstructure:"min_confidence_threshold" yaml:"min_confidence_threshold"`
	StepTimeout            time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	BranchPrefix           string        `mapstructure:"branch_prefix" yaml:"branch_prefix"`
	BranchStrategy         string        `mapstructure:"branch_strategy" yaml:"branch_strategy"`
	BaseBranch             string        `mapstructure:"base_branch" yaml:"base_branch"`
	MaxAttempts            int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	ContextLines           int           `mapstructure:"context_lines" yaml:"context_lines"`
	ProtectedPaths         []string      `mapstructure:"protected_paths" yaml:"protected_paths"`
	DryRun                 bool          `mapstructure:"dry_run" yaml:"dry_run"`
	ServerLog              string        `mapstructure:"server_log" yaml:"server_log"`
	Schedule               string        `mapstructure:"schedule" yaml:"schedule"`
	Git                    GitConfig     `mapstructure:"git" yaml:"git"`
	GitHub                 GitHubConfig  `mapstructure:"github" yaml:"github"`
}

// GitConfig defines the committer identity.
type GitConfig struct {
	AuthorName  string `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail string `mapstructure:"author_email" yaml:"author_email"`
}

// GitHubConfig defines the configuration for GitHub integration.
type GitHubConfig struct {
	Token     string `mapstructure:"token" yaml:"-"`
	RepoOwner string `mapstructure:"repo_owner" yaml:"repo_owner"`
	RepoName  string `mapstructure:"repo_name" yaml:"repo_name"`
	CreatePRs bool   `mapstructure:"create_prs" yaml:"create_prs"`
}

// TestsConfig describes how the project's test suite is invoked and where it
// writes its report.
type TestsConfig struct {
	Command       []string      `mapstructure:"command" yaml:"command"`
	ResultsFile   string        `mapstructure:"results_file" yaml:"results_file"`
	Format        string        `mapstructure:"format" yaml:"format"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxOutputSize int64         `mapstructure:"max_output_size" yaml:"max_output_size"`
	LintCommand   []string      `mapstructure:"lint_command" yaml:"lint_command"`
	FormatCommand []string      `mapstructure:"format_command" yaml:"format_command"`
}

// DeployConfig holds environment branch mapping and container settings.
type DeployConfig struct {
	StagingBranch    string        `mapstructure:"staging_branch" yaml:"staging_branch"`
	ProductionBranch string        `mapstructure:"production_branch" yaml:"production_branch"`
	Remote           string        `mapstructure:"remote" yaml:"remote"`
	DockerEnabled    bool          `mapstructure:"docker_enabled" yaml:"docker_enabled"`
	DockerImage      string        `mapstructure:"docker_image" yaml:"docker_image"`
	DockerRegistry   string        `mapstructure:"docker_registry" yaml:"docker_registry"`
	HealthURLs       []string      `mapstructure:"health_urls" yaml:"health_urls"`
	HealthTimeout    time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`
}

// NotifyConfig configures escalation notifications.
type NotifyConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url" yaml:"-"`
	Channel         string `mapstructure:"channel" yaml:"channel"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mealfix")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- LLM --
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.anthropic.fast_model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.anthropic.powerful_model", "claude-sonnet-4-5")
	v.SetDefault("llm.openai.fast_model", "gpt-4o-mini")
	v.SetDefault("llm.openai.powerful_model", "gpt-4o")
	v.SetDefault("llm.gemini.fast_model", "gemini-2.5-flash")
	v.SetDefault("llm.gemini.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "2m")
	v.SetDefault("llm.max_retry_elapsed", "3m")
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)

	// -- Autofix --
	v.SetDefault("autofix.project_root", ".")
	v.SetDefault("autofix.results_dir", "test-results")
	v.SetDefault("autofix.max_fixes_per_run", 5)
	v.SetDefault("autofix.auto_deploy_level1", true)
	v.SetDefault("autofix.auto_deploy_level2", false)
	v.SetDefault("autofix.min_confidence_threshold", 0.7)
	v.SetDefault("autofix.step_timeout", "10m")
	v.SetDefault("autofix.branch_prefix", "fix/auto")
	v.SetDefault("autofix.branch_strategy", BranchStrategyTimestamp)
	v.SetDefault("autofix.base_branch", "main")
	v.SetDefault("autofix.max_attempts", 3)
	v.SetDefault("autofix.context_lines", 10)
	v.SetDefault("autofix.protected_paths", []string{".git/**", "node_modules/**", "**/.env*", "**/*.lock", "package-lock.json"})
	v.SetDefault("autofix.schedule", "")
	v.SetDefault("autofix.git.author_name", "mealfix-bot")
	v.SetDefault("autofix.git.author_email", "autofix@fitnessmealplanner.local")
	v.SetDefault("autofix.github.create_prs", false)

	// -- Tests --
	v.SetDefault("tests.command", []string{"npx", "playwright", "test", "--reporter=json"})
	v.SetDefault("tests.results_file", "test-results.json")
	v.SetDefault("tests.format", "auto")
	v.SetDefault("tests.timeout", "30m")
	v.SetDefault("tests.max_output_size", 50*1024*1024)
	v.SetDefault("tests.lint_command", []string{"npx", "eslint", "--fix"})
	v.SetDefault("tests.format_command", []string{"npx", "prettier", "--write"})

	// -- Deploy --
	v.SetDefault("deploy.staging_branch", "qa-ready")
	v.SetDefault("deploy.production_branch", "main")
	v.SetDefault("deploy.remote", "origin")
	v.SetDefault("deploy.docker_enabled", false)
	v.SetDefault("deploy.docker_image", "fitnessmealplanner")
	v.SetDefault("deploy.health_timeout", "10s")
}

// BindEnvironment maps the well-known environment variables onto config keys.
// Everything else is reachable through the MEALFIX_ prefix.
func BindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix("MEALFIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("llm.anthropic.api_key", "ANTHROPIC_API_KEY", "MEALFIX_ANTHROPIC_API_KEY")
	_ = v.BindEnv("llm.openai.api_key", "OPENAI_API_KEY", "MEALFIX_OPENAI_API_KEY")
	_ = v.BindEnv("llm.gemini.api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = v.BindEnv("autofix.max_fixes_per_run", "MAX_FIXES_PER_RUN", "MEALFIX_MAX_FIXES_PER_RUN")
	_ = v.BindEnv("autofix.auto_deploy_level1", "AUTO_DEPLOY_LEVEL1")
	_ = v.BindEnv("autofix.auto_deploy_level2", "AUTO_DEPLOY_LEVEL2")
	_ = v.BindEnv("autofix.github.token", "MEALFIX_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("database.url", "MEALFIX_DATABASE_URL")
	_ = v.BindEnv("notify.slack_webhook_url", "MEALFIX_SLACK_WEBHOOK")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.AutofixCfg.ProjectRoot, &c.AutofixCfg.ServerLog, &c.LoggerCfg.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.AutofixCfg.Validate(); err != nil {
		return fmt.Errorf("autofix configuration invalid: %w", err)
	}
	if err := c.TestsCfg.Validate(); err != nil {
		return fmt.Errorf("tests configuration invalid: %w", err)
	}
	if err := c.DeployCfg.Validate(); err != nil {
		return fmt.Errorf("deploy configuration invalid: %w", err)
	}
	if c.LLMCfg.Provider != "" {
		if _, ok := c.LLMCfg.ProviderConfig(c.LLMCfg.Provider); !ok {
			return fmt.Errorf("llm.provider must be one of anthropic, openai, gemini")
		}
	}
	return nil
}

// Validate checks the Autofix configuration.
func (a *AutofixConfig) Validate() error {
	if a.MaxFixesPerRun <= 0 {
		return fmt.Errorf("max_fixes_per_run must be a positive integer")
	}
	if a.MinConfidenceThreshold < 0.0 || a.MinConfidenceThreshold > 1.0 {
		return fmt.Errorf("min_confidence_threshold must be between 0.0 and 1.0")
	}
	if a.BranchStrategy != BranchStrategyTimestamp && a.BranchStrategy != BranchStrategyReuse {
		return fmt.Errorf("branch_strategy must be %q or %q", BranchStrategyTimestamp, BranchStrategyReuse)
	}
	if a.BranchPrefix == "" {
		return fmt.Errorf("branch_prefix is required")
	}
	if a.StepTimeout <= 0 {
		return fmt.Errorf("step_timeout must be a positive duration")
	}
	if a.GitHub.CreatePRs && (a.GitHub.RepoOwner == "" || a.GitHub.RepoName == "") {
		return fmt.Errorf("github.repo_owner and github.repo_name are required when create_prs is enabled")
	}
	return nil
}

// Validate checks the test runner configuration.
func (t *TestsConfig) Validate() error {
	if len(t.Command) == 0 {
		return fmt.Errorf("command must not be empty")
	}
	if t.ResultsFile == "" {
		return fmt.Errorf("results_file is required")
	}
	switch t.Format {
	case "auto", "playwright", "vitest", "junit":
	default:
		return fmt.Errorf("format must be one of auto, playwright, vitest, junit")
	}
	if t.MaxOutputSize <= 0 {
		return fmt.Errorf("max_output_size must be positive")
	}
	return nil
}

// Validate checks the deployment configuration.
func (d *DeployConfig) Validate() error {
	if d.StagingBranch == "" || d.ProductionBranch == "" {
		return fmt.Errorf("staging_branch and production_branch are required")
	}
	if d.HealthTimeout <= 0 {
		return fmt.Errorf("health_timeout must be a positive duration")
	}
	if d.DockerEnabled && d.DockerImage == "" {
		return fmt.Errorf("docker_image is required when docker is enabled")
	}
	return nil
}
