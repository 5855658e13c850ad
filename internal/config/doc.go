// Package config handles configuration loading for the chatbot gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file, or TOML when the file name ends
// in .toml, with environment variable expansion, duration parsing, defaults
// and validation.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	discord:
//	  token: "${DISCORD_TOKEN}"
//
// Unset variables expand to an empty string, which validation then rejects
// for required fields.
//
// # Required Values
//
// The idle eviction threshold, the reconstruction timeout and the memory
// token budget have no defaults:
//
//	sessions:
//	  idle_timeout: "30m"
//	  reconstruct_timeout: "10s"
//	  token_budget: 6000
//
// # Sections
//
//	platform: discord            # or matrix
//	discord:
//	  token: "${DISCORD_TOKEN}"
//	  guild_id: ""               # empty registers /chat globally
//	  allowed_channels: ["1234"]
//	  admin_users: ["5678"]
//	  reaction_emoji: "🧠"
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@chatbot:example.org"
//	  access_token: "${MATRIX_TOKEN}"
//	  command_prefix: "!chat"
//	model:
//	  provider: openai           # or gemini
//	  name: "gpt-4o-mini"
//	  api_key: "${OPENAI_API_KEY}"
//	  max_tokens: 1024
//	  temperature: 0.7
//	  request_timeout: "60s"
//	assistants:
//	  default: course_assistant
//	  channels:
//	    "9012": intake_interviewer
//	  variants:
//	    intake_interviewer:
//	      token_budget: 3000
//	dedupe:
//	  window: "5m"
//	database:
//	  path: "./chatbot.db"
//	server:
//	  http_addr: "127.0.0.1:8080"
//	logging:
//	  level: info                # debug, info, warn, error
//	  format: text               # text or json
package config
