// ABOUTME: Configuration loading and parsing for the chatbot gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/HuMoN-Research-Lab/chatbot/internal/agent"
	"github.com/HuMoN-Research-Lab/chatbot/internal/auth"
)

// Supported platforms.
const (
	PlatformDiscord = "discord"
	PlatformMatrix  = "matrix"
)

// Supported model providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config represents the complete gateway configuration
type Config struct {
	Platform   string           `yaml:"platform" toml:"platform"`
	Discord    DiscordConfig    `yaml:"discord" toml:"discord"`
	Matrix     MatrixConfig     `yaml:"matrix" toml:"matrix"`
	Model      ModelConfig      `yaml:"model" toml:"model"`
	Assistants AssistantsConfig `yaml:"assistants" toml:"assistants"`
	Sessions   SessionsConfig   `yaml:"sessions" toml:"sessions"`
	Dedupe     DedupeConfig     `yaml:"dedupe" toml:"dedupe"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// TriggerConfig holds who may start chats and where.
type TriggerConfig struct {
	// AllowedChannels restricts the start command. Empty allows every channel.
	AllowedChannels []string `yaml:"allowed_channels" toml:"allowed_channels"`
	AdminUsers      []string `yaml:"admin_users" toml:"admin_users"`
	ReactionEmoji   string   `yaml:"reaction_emoji" toml:"reaction_emoji"`
}

// DiscordConfig holds Discord bot configuration
type DiscordConfig struct {
	TriggerConfig `yaml:",inline"`

	Token string `yaml:"token" toml:"token"`
	// GuildID limits slash command registration to one guild. Empty
	// registers the command globally.
	GuildID     string `yaml:"guild_id" toml:"guild_id"`
	CommandName string `yaml:"command_name" toml:"command_name"`
}

// MatrixConfig holds Matrix bot configuration
type MatrixConfig struct {
	TriggerConfig `yaml:",inline"`

	Homeserver    string `yaml:"homeserver" toml:"homeserver"`
	UserID        string `yaml:"user_id" toml:"user_id"`
	AccessToken   string `yaml:"access_token" toml:"access_token"`
	CommandPrefix string `yaml:"command_prefix" toml:"command_prefix"`
}

// ModelConfig selects the language model backend
type ModelConfig struct {
	Provider    string  `yaml:"provider" toml:"provider"`
	Name        string  `yaml:"name" toml:"name"`
	APIKey      string  `yaml:"api_key" toml:"api_key"`
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// AssistantConfig overrides the prompt or budget of one variant.
type AssistantConfig struct {
	Prompt      string `yaml:"prompt" toml:"prompt"`
	TokenBudget int    `yaml:"token_budget" toml:"token_budget"`
}

// AssistantsConfig maps channels to assistant variants
type AssistantsConfig struct {
	Default  string                     `yaml:"default" toml:"default"`
	Channels map[string]string          `yaml:"channels" toml:"channels"`
	Variants map[string]AssistantConfig `yaml:"variants" toml:"variants"`
}

// SessionsConfig holds session lifecycle timing and thread wording
type SessionsConfig struct {
	IdleTimeout        time.Duration `yaml:"-" toml:"-"`
	SweepInterval      time.Duration `yaml:"-" toml:"-"`
	ReconstructTimeout time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	IdleTimeoutRaw        string `yaml:"idle_timeout" toml:"idle_timeout"`
	SweepIntervalRaw      string `yaml:"sweep_interval" toml:"sweep_interval"`
	ReconstructTimeoutRaw string `yaml:"reconstruct_timeout" toml:"reconstruct_timeout"`
	ShutdownTimeoutRaw    string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`

	// TokenBudget bounds the memory sent to the model per turn.
	TokenBudget  int    `yaml:"token_budget" toml:"token_budget"`
	IgnorePrefix string `yaml:"ignore_prefix" toml:"ignore_prefix"`
	NoticePrefix string `yaml:"notice_prefix" toml:"notice_prefix"`
	ResumeNotice string `yaml:"resume_notice" toml:"resume_notice"`
}

// DedupeConfig bounds the inbound event dedupe window
type DedupeConfig struct {
	Window    time.Duration `yaml:"-" toml:"-"`
	WindowRaw string        `yaml:"window" toml:"window"`
	MaxSize   int           `yaml:"max_size" toml:"max_size"`
}

// DatabaseConfig holds archive database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// ServerConfig holds the status server settings. An empty HTTPAddr
// disables the server; an empty JWTSecret leaves /api/ unauthenticated.
type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr" toml:"http_addr"`
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))
	if c.Discord.ReactionEmoji == "" {
		c.Discord.ReactionEmoji = "🧠"
	}
	if c.Discord.CommandName == "" {
		c.Discord.CommandName = "chat"
	}
	if c.Matrix.ReactionEmoji == "" {
		c.Matrix.ReactionEmoji = "🧠"
	}
	if c.Matrix.CommandPrefix == "" {
		c.Matrix.CommandPrefix = "!chat"
	}
	if c.Model.Provider == "" {
		c.Model.Provider = ProviderOpenAI
	}
	if c.Assistants.Default == "" {
		c.Assistants.Default = agent.CourseAssistant.String()
	}
	if c.Sessions.IgnorePrefix == "" {
		c.Sessions.IgnorePrefix = "~"
	}
	if c.Sessions.NoticePrefix == "" {
		c.Sessions.NoticePrefix = "> 🤖"
	}
	if c.Sessions.ShutdownTimeout == 0 {
		c.Sessions.ShutdownTimeout = 30 * time.Second
	}
	if c.Dedupe.Window == 0 {
		c.Dedupe.Window = 5 * time.Minute
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = 10_000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Platform {
	case PlatformDiscord:
		if c.Discord.Token == "" {
			return fmt.Errorf("discord.token is required")
		}
	case PlatformMatrix:
		if c.Matrix.Homeserver == "" {
			return fmt.Errorf("matrix.homeserver is required")
		}
		if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
			return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
		}
		if c.Matrix.UserID == "" {
			return fmt.Errorf("matrix.user_id is required")
		}
		if c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.access_token is required")
		}
	case "":
		return fmt.Errorf("platform is required (discord or matrix)")
	default:
		return fmt.Errorf("unknown platform %q (want discord or matrix)", c.Platform)
	}

	switch c.Model.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown model.provider %q (want openai or gemini)", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be positive")
	}

	if _, err := agent.ParseVariant(c.Assistants.Default); err != nil {
		return fmt.Errorf("assistants.default: %w", err)
	}
	for channel, name := range c.Assistants.Channels {
		if _, err := agent.ParseVariant(name); err != nil {
			return fmt.Errorf("assistants.channels[%s]: %w", channel, err)
		}
	}
	for name, vc := range c.Assistants.Variants {
		if _, err := agent.ParseVariant(name); err != nil {
			return fmt.Errorf("assistants.variants: %w", err)
		}
		if vc.TokenBudget < 0 {
			return fmt.Errorf("assistants.variants[%s].token_budget must not be negative", name)
		}
	}

	if c.Sessions.IdleTimeout <= 0 {
		return fmt.Errorf("sessions.idle_timeout is required")
	}
	if c.Sessions.ReconstructTimeout <= 0 {
		return fmt.Errorf("sessions.reconstruct_timeout is required")
	}
	if c.Sessions.TokenBudget <= 0 {
		return fmt.Errorf("sessions.token_budget is required")
	}
	if c.Sessions.SweepInterval < 0 {
		return fmt.Errorf("sessions.sweep_interval must not be negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Server.JWTSecret != "" && len(c.Server.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("server.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}

	return nil
}

// Triggers returns the trigger settings of the configured platform.
func (c *Config) Triggers() TriggerConfig {
	if c.Platform == PlatformMatrix {
		return c.Matrix.TriggerConfig
	}
	return c.Discord.TriggerConfig
}

// DefaultVariant returns the assistant used for unmapped channels.
func (c *Config) DefaultVariant() agent.Variant {
	v, err := agent.ParseVariant(c.Assistants.Default)
	if err != nil {
		return agent.CourseAssistant
	}
	return v
}

// ChannelVariants returns the parsed channel to variant mapping.
func (c *Config) ChannelVariants() map[string]agent.Variant {
	out := make(map[string]agent.Variant, len(c.Assistants.Channels))
	for channel, name := range c.Assistants.Channels {
		if v, err := agent.ParseVariant(name); err == nil {
			out[channel] = v
		}
	}
	return out
}

// VariantOverrides returns per-variant prompt and budget overrides.
func (c *Config) VariantOverrides() map[agent.Variant]agent.VariantConfig {
	out := make(map[agent.Variant]agent.VariantConfig, len(c.Assistants.Variants))
	for name, vc := range c.Assistants.Variants {
		if v, err := agent.ParseVariant(name); err == nil {
			out[v] = agent.VariantConfig{Prompt: vc.Prompt, TokenBudget: vc.TokenBudget}
		}
	}
	return out
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"model.request_timeout", cfg.Model.RequestTimeoutRaw, &cfg.Model.RequestTimeout},
		{"sessions.idle_timeout", cfg.Sessions.IdleTimeoutRaw, &cfg.Sessions.IdleTimeout},
		{"sessions.sweep_interval", cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval},
		{"sessions.reconstruct_timeout", cfg.Sessions.ReconstructTimeoutRaw, &cfg.Sessions.ReconstructTimeout},
		{"sessions.shutdown_timeout", cfg.Sessions.ShutdownTimeoutRaw, &cfg.Sessions.ShutdownTimeout},
		{"dedupe.window", cfg.Dedupe.WindowRaw, &cfg.Dedupe.Window},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
