package discord

import (
	"context"
	"errors"
	"fmt"

	"chimebot/controller"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

// VoiceTransport joins voice channels through the gateway session.
type VoiceTransport struct {
	session *discordgo.Session
}

func NewVoiceTransport(session *discordgo.Session) *VoiceTransport {
	return &VoiceTransport{session: session}
}

func (t *VoiceTransport) Join(ctx context.Context, guildID string, channelID string) (controller.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// deafened: the bot never listens to the channel
	vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		if vc != nil {
			if dErr := vc.Disconnect(); dErr != nil {
				log.WithField("module", "discord").Warnf("error cleaning up failed voice join: %v", dErr)
			}
		}
		return nil, fmt.Errorf("error joining voice channel %s: %w", channelID, err)
	}
	return vc, nil
}

// VoiceStateLookup is satisfied by *discordgo.State.
type VoiceStateLookup interface {
	VoiceState(guildID string, userID string) (*discordgo.VoiceState, error)
}

// VoiceStateResolver resolves member voice channels from the gateway state cache.
type VoiceStateResolver struct {
	state VoiceStateLookup
}

func NewVoiceStateResolver(state VoiceStateLookup) *VoiceStateResolver {
	return &VoiceStateResolver{state: state}
}

var ErrVoiceStateUnavailable = errors.New("voice state unavailable")

func (r *VoiceStateResolver) VoiceChannel(guildID string, userID string) (string, error) {
	if r.state == nil {
		return "", ErrVoiceStateUnavailable
	}
	if guildID == "" || userID == "" {
		return "", fmt.Errorf("%w: guild or user id is empty", ErrVoiceStateUnavailable)
	}
	vs, err := r.state.VoiceState(guildID, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVoiceStateUnavailable, err)
	}
	if vs == nil {
		return "", ErrVoiceStateUnavailable
	}
	return vs.ChannelID, nil
}
