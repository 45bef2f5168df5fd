package discord

import (
	"fmt"

	"chimebot/config"

	"github.com/bwmarrin/discordgo"
)

// NewSession creates the gateway session. It is opened by the caller once
// every handler has been attached, so the first Ready is not missed.
func NewSession(cfg *config.ConfigStruct) (*discordgo.Session, error) {
	session, err := discordgo.New(cfg.Discord.AuthToken())
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	session.Identify.Intents = Intents(cfg)
	session.StateEnabled = true
	session.ShouldReconnectOnError = true
	return session, nil
}

func Intents(cfg *config.ConfigStruct) discordgo.Intent {
	intents := discordgo.IntentsGuilds
	if cfg.Voice.Enabled {
		intents |= discordgo.IntentsGuildVoiceStates
	}
	if cfg.Prefix.Enabled {
		intents |= discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent
	}
	return intents
}
