package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chimebot/stats"

	log "github.com/sirupsen/logrus"
)

// ChannelResolver finds the voice channel a guild member is currently in.
type ChannelResolver interface {
	VoiceChannel(guildID string, userID string) (string, error)
}

type Options struct {
	TickInterval time.Duration
	NewTicker    func(time.Duration) Ticker
	Metrics      *stats.Metrics
}

type Controller struct {
	// This is a map of guildID to the voice session for that guild
	sessions  map[string]*GuildSession
	transport Transport
	resolver  ChannelResolver
	options   Options
	closed    bool
	mutex     sync.Mutex
	logger    *log.Entry
}

func NewController(transport Transport, resolver ChannelResolver, options Options) *Controller {
	if options.TickInterval <= 0 {
		options.TickInterval = time.Minute
	}
	if options.NewTicker == nil {
		options.NewTicker = NewTimeTicker
	}
	return &Controller{
		sessions:  make(map[string]*GuildSession),
		transport: transport,
		resolver:  resolver,
		options:   options,
		logger: log.WithFields(log.Fields{
			"module": "controller",
		}),
	}
}

func (c *Controller) GetSession(guildID string) *GuildSession {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if session, ok := c.sessions[guildID]; ok {
		return session
	}

	session := newGuildSession(guildID, c.transport, c.options)
	session.closed = c.closed
	c.sessions[guildID] = session
	return session
}

func (c *Controller) lookup(guildID string) (*GuildSession, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	session, ok := c.sessions[guildID]
	return session, ok
}

// JoinVoiceChannel joins the voice channel userID is in. A member outside of any
// voice channel yields ErrNoVoiceChannel and leaves no state behind.
func (c *Controller) JoinVoiceChannel(ctx context.Context, guildID string, userID string) (*GuildSession, error) {
	if guildID == "" {
		return nil, ErrNoGuild
	}

	channelID, err := c.resolver.VoiceChannel(guildID, userID)
	if err != nil {
		c.logger.WithField("guild_id", guildID).Debugf("could not resolve voice channel for %s: %v", userID, err)
		return nil, fmt.Errorf("%w: %w", ErrNoVoiceChannel, err)
	}
	if channelID == "" {
		return nil, ErrNoVoiceChannel
	}

	session := c.GetSession(guildID)
	if err := session.Join(ctx, channelID); err != nil {
		return session, err
	}
	return session, nil
}

// HandleBotVoiceState applies a voice state update of the bot user itself.
// An empty channelID means the bot is no longer in a voice channel.
func (c *Controller) HandleBotVoiceState(guildID string, channelID string) {
	session, ok := c.lookup(guildID)
	if !ok {
		return
	}
	if channelID == "" {
		session.handleRemoved()
		return
	}
	session.handleMoved(channelID)
}

// Sessions returns snapshots ordered by guild id.
func (c *Controller) Sessions() []SessionSnapshot {
	c.mutex.Lock()
	sessions := make([]*GuildSession, 0, len(c.sessions))
	for _, session := range c.sessions {
		sessions = append(sessions, session)
	}
	c.mutex.Unlock()

	snapshots := make([]SessionSnapshot, 0, len(sessions))
	for _, session := range sessions {
		snapshots = append(snapshots, session.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].GuildID < snapshots[j].GuildID
	})
	return snapshots
}

// Close leaves every connected session. Joins still in flight are torn down as soon
// as they complete and later joins fail with ErrClosed.
func (c *Controller) Close() {
	c.mutex.Lock()
	c.closed = true
	sessions := make([]*GuildSession, 0, len(c.sessions))
	for _, session := range c.sessions {
		sessions = append(sessions, session)
	}
	c.mutex.Unlock()

	for _, session := range sessions {
		session.close()
	}
	c.logger.Debugf("closed %d voice sessions", len(sessions))
}
