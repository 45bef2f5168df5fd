package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ConfigStruct struct {
	Discord DiscordConfig
	Voice   VoiceConfig
	Prefix  PrefixConfig
	Options Options
	Sentry  SentryConfig
}

type DiscordConfig struct {
	BotToken    string
	AppID       string
	TestGuildID string
}

type VoiceConfig struct {
	Enabled     bool
	TickSeconds int
}

type PrefixConfig struct {
	Enabled bool
	Prefix  string
}

type SentryConfig struct {
	DSN     string
	Release string
}

type Options struct {
	Port     string
	LogLevel string
}

// AuthToken returns the token in the form the gateway expects.
func (d *DiscordConfig) AuthToken() string {
	token := strings.TrimSpace(d.BotToken)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return "Bot " + strings.TrimSpace(token[4:])
	}
	return "Bot " + token
}

func (d *DiscordConfig) HasTestGuild() bool {
	return d.TestGuildID != ""
}

func (v *VoiceConfig) TickInterval() time.Duration {
	return time.Duration(v.TickSeconds) * time.Second
}

var Config *ConfigStruct

var (
	ErrMissingToken = errors.New("DISCORD_TOKEN must be set")
	ErrMissingAppID = errors.New("APPLICATION_ID must be set")
	ErrInvalidAppID = errors.New("APPLICATION_ID must be numeric")
)

// NewConfig loads the configuration from the environment into Config.
func NewConfig() error {
	config, err := Load()
	if err != nil {
		return err
	}
	Config = config
	return nil
}

func Load() (*ConfigStruct, error) {
	config := &ConfigStruct{
		Discord: DiscordConfig{
			BotToken:    strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
			AppID:       strings.TrimSpace(os.Getenv("APPLICATION_ID")),
			TestGuildID: strings.TrimSpace(os.Getenv("TEST_GUILD_ID")),
		},
		Voice: VoiceConfig{
			Enabled:     getBool("VOICE_ENABLED", true),
			TickSeconds: getTickSeconds(),
		},
		Prefix: PrefixConfig{
			Enabled: getBool("PREFIX_COMMANDS_ENABLED", false),
			Prefix:  getPrefix(),
		},
		Options: Options{
			Port:     getPort(),
			LogLevel: getLogLevel(),
		},
		Sentry: SentryConfig{
			DSN:     os.Getenv("SENTRY_DSN"),
			Release: os.Getenv("RELEASE"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *ConfigStruct) validate() error {
	if c.Discord.BotToken == "" {
		return ErrMissingToken
	}
	if c.Discord.AppID == "" {
		return ErrMissingAppID
	}
	if _, err := strconv.ParseUint(c.Discord.AppID, 10, 64); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidAppID, c.Discord.AppID)
	}
	if c.Discord.TestGuildID != "" {
		if _, err := strconv.ParseUint(c.Discord.TestGuildID, 10, 64); err != nil {
			return fmt.Errorf("TEST_GUILD_ID must be numeric: %q", c.Discord.TestGuildID)
		}
	}
	return nil
}

func getBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getTickSeconds() int {
	secondsStr := os.Getenv("VOICE_TICK_SECONDS")
	if secondsStr == "" {
		return 60
	}
	seconds, err := strconv.Atoi(secondsStr)
	if err != nil || seconds <= 0 {
		return 60
	}
	if seconds > 3600 {
		return 3600
	}
	return seconds
}

func getPrefix() string {
	prefix := strings.TrimSpace(os.Getenv("COMMAND_PREFIX"))
	if prefix == "" {
		return "~"
	}
	return prefix
}

func getPort() string {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		return "8080"
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "8080"
	}
	return port
}

func getLogLevel() string {
	level := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if level == "" {
		return "info"
	}
	return level
}
