// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HuMoN-Research-Lab/chatbot/internal/agent"
)

const validYAML = `
platform: discord
discord:
  token: "discord-token"
  allowed_channels: ["chan-1", "chan-2"]
  admin_users: ["admin-1"]
model:
  provider: openai
  name: gpt-4o-mini
  api_key: "sk-test"
  max_tokens: 512
  temperature: 0.5
  request_timeout: "45s"
assistants:
  default: course_assistant
  channels:
    intake: intake-interviewer
  variants:
    intake_interviewer:
      token_budget: 2000
      prompt: "Interview the student."
sessions:
  idle_timeout: "30m"
  reconstruct_timeout: "10s"
  sweep_interval: "1m"
  token_budget: 6000
  resume_notice: "Memory reloaded"
database:
  path: "./chatbot.db"
server:
  http_addr: "127.0.0.1:8080"
logging:
  level: debug
  format: json
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	require.NoError(t, err)

	assert.Equal(t, PlatformDiscord, cfg.Platform)
	assert.Equal(t, "discord-token", cfg.Discord.Token)
	assert.Equal(t, []string{"chan-1", "chan-2"}, cfg.Discord.AllowedChannels)
	assert.Equal(t, []string{"admin-1"}, cfg.Triggers().AdminUsers)
	assert.Equal(t, "🧠", cfg.Triggers().ReactionEmoji)
	assert.Equal(t, "chat", cfg.Discord.CommandName)

	assert.Equal(t, 45*time.Second, cfg.Model.RequestTimeout)
	assert.Equal(t, 0.5, cfg.Model.Temperature)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.Sessions.ReconstructTimeout)
	assert.Equal(t, time.Minute, cfg.Sessions.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.Sessions.ShutdownTimeout)
	assert.Equal(t, 6000, cfg.Sessions.TokenBudget)
	assert.Equal(t, "~", cfg.Sessions.IgnorePrefix)
	assert.Equal(t, "> 🤖", cfg.Sessions.NoticePrefix)
	assert.Equal(t, 5*time.Minute, cfg.Dedupe.Window)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, agent.CourseAssistant, cfg.DefaultVariant())
	assert.Equal(t, map[string]agent.Variant{"intake": agent.IntakeInterviewer}, cfg.ChannelVariants())
	assert.Equal(t, map[agent.Variant]agent.VariantConfig{
		agent.IntakeInterviewer: {Prompt: "Interview the student.", TokenBudget: 2000},
	}, cfg.VariantOverrides())
}

func TestLoad_TOML(t *testing.T) {
	content := `
platform = "matrix"

[matrix]
homeserver = "https://matrix.example.org"
user_id = "@chatbot:example.org"
access_token = "matrix-token"
admin_users = ["@admin:example.org"]

[model]
provider = "gemini"
name = "gemini-2.0-flash"
api_key = "key"
max_tokens = 256

[sessions]
idle_timeout = "15m"
reconstruct_timeout = "5s"
token_budget = 4000

[database]
path = "/var/lib/chatbot/archive.db"
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	require.NoError(t, err)

	assert.Equal(t, PlatformMatrix, cfg.Platform)
	assert.Equal(t, "@chatbot:example.org", cfg.Matrix.UserID)
	assert.Equal(t, []string{"@admin:example.org"}, cfg.Triggers().AdminUsers)
	assert.Equal(t, "!chat", cfg.Matrix.CommandPrefix)
	assert.Equal(t, ProviderGemini, cfg.Model.Provider)
	assert.Equal(t, 15*time.Minute, cfg.Sessions.IdleTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("CHATBOT_TEST_DISCORD_TOKEN", "from-env")
	content := strings.Replace(validYAML, `"discord-token"`, `"${CHATBOT_TEST_DISCORD_TOKEN}"`, 1)

	cfg, err := Load(writeConfig(t, "config.yaml", content))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Discord.Token)
}

func TestLoad_UnsetEnvVarFailsValidation(t *testing.T) {
	content := strings.Replace(validYAML, `"discord-token"`, `"${CHATBOT_TEST_UNSET_VARIABLE}"`, 1)

	_, err := Load(writeConfig(t, "config.yaml", content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord.token is required")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(string) string
		wantErr string
	}{
		{
			name:    "missing idle timeout",
			edit:    func(s string) string { return strings.Replace(s, `idle_timeout: "30m"`, "", 1) },
			wantErr: "sessions.idle_timeout is required",
		},
		{
			name:    "missing reconstruct timeout",
			edit:    func(s string) string { return strings.Replace(s, `reconstruct_timeout: "10s"`, "", 1) },
			wantErr: "sessions.reconstruct_timeout is required",
		},
		{
			name:    "missing token budget",
			edit:    func(s string) string { return strings.Replace(s, "token_budget: 6000", "", 1) },
			wantErr: "sessions.token_budget is required",
		},
		{
			name:    "bad duration",
			edit:    func(s string) string { return strings.Replace(s, `"30m"`, `"thirty minutes"`, 1) },
			wantErr: "sessions.idle_timeout",
		},
		{
			name:    "unknown platform",
			edit:    func(s string) string { return strings.Replace(s, "platform: discord", "platform: irc", 1) },
			wantErr: `unknown platform "irc"`,
		},
		{
			name:    "unknown variant",
			edit:    func(s string) string { return strings.Replace(s, "intake: intake-interviewer", "intake: tutor", 1) },
			wantErr: "assistants.channels[intake]",
		},
		{
			name:    "unknown provider",
			edit:    func(s string) string { return strings.Replace(s, "provider: openai", "provider: llama", 1) },
			wantErr: "model.provider",
		},
		{
			name:    "missing database",
			edit:    func(s string) string { return strings.Replace(s, `path: "./chatbot.db"`, "", 1) },
			wantErr: "database.path is required",
		},
		{
			name: "short jwt secret",
			edit: func(s string) string {
				return strings.Replace(s, `http_addr: "127.0.0.1:8080"`, `http_addr: "127.0.0.1:8080"`+"\n  jwt_secret: \"too-short\"", 1)
			},
			wantErr: "server.jwt_secret",
		},
		{
			name:    "bad log level",
			edit:    func(s string) string { return strings.Replace(s, "level: debug", "level: loud", 1) },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.edit(validYAML)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "platform: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CHATBOT_TEST_A", "alpha")
	assert.Equal(t, "alpha-", expandEnvVars("${CHATBOT_TEST_A}-${CHATBOT_TEST_UNSET_B}"))
	assert.Equal(t, "no refs", expandEnvVars("no refs"))
}
