package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chimebot/stats"

	log "github.com/sirupsen/logrus"
)

type State int

const (
	Disconnected State = iota
	Joining
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Joining:
		return "joining"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNoGuild        = errors.New("voice requires a guild")
	ErrNoVoiceChannel = errors.New("member is not in a voice channel")
	ErrJoinInProgress = errors.New("voice join already in progress")
	ErrJoinFailed     = errors.New("voice join failed")
	ErrClosed         = errors.New("voice controller is closed")
)

// Connection is an open voice connection handle.
type Connection interface {
	Disconnect() error
}

// Transport opens voice connections.
type Transport interface {
	Join(ctx context.Context, guildID string, channelID string) (Connection, error)
}

// GuildSession tracks the voice connection of one guild.
type GuildSession struct {
	GuildID string

	mutex     sync.Mutex
	state     State
	channelID string
	conn      Connection
	joinedAt  time.Time
	duration  *stats.DurationCounter
	events    chan VoiceEvent
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool

	transport Transport
	options   Options
	logger    *log.Entry
}

// SessionSnapshot is a read-only view of a GuildSession.
type SessionSnapshot struct {
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	State     string    `json:"state"`
	Ticks     uint64    `json:"ticks"`
	JoinedAt  time.Time `json:"joined_at,omitempty"`
}

func newGuildSession(guildID string, transport Transport, options Options) *GuildSession {
	return &GuildSession{
		GuildID:   guildID,
		state:     Disconnected,
		transport: transport,
		options:   options,
		logger: log.WithFields(log.Fields{
			"module":   "controller",
			"guild_id": guildID,
		}),
	}
}

func (s *GuildSession) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *GuildSession) ChannelID() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.channelID
}

// Duration returns the counter of the most recent connection, nil before the first join.
func (s *GuildSession) Duration() *stats.DurationCounter {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.duration
}

func (s *GuildSession) Snapshot() SessionSnapshot {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	snapshot := SessionSnapshot{
		GuildID:   s.GuildID,
		ChannelID: s.channelID,
		State:     s.state.String(),
		JoinedAt:  s.joinedAt,
	}
	if s.duration != nil {
		snapshot.Ticks = s.duration.Value()
	}
	return snapshot
}

// Join connects the session to channelID.
func (s *GuildSession) Join(ctx context.Context, channelID string) error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return ErrClosed
	}
	switch s.state {
	case Joining:
		s.mutex.Unlock()
		return ErrJoinInProgress
	case Connected:
		if s.channelID == channelID {
			s.mutex.Unlock()
			s.logger.Debugf("already connected to %s", channelID)
			return nil
		}
		s.logger.Debugf("moving from %s to %s", s.channelID, channelID)
		s.teardownLocked()
	}
	s.state = Joining
	s.mutex.Unlock()

	conn, err := s.transport.Join(ctx, s.GuildID, channelID)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err != nil {
		s.state = Disconnected
		s.logger.Errorf("error joining voice channel %s: %v", channelID, err)
		return fmt.Errorf("%w: %w", ErrJoinFailed, err)
	}
	if conn == nil {
		s.state = Disconnected
		return fmt.Errorf("%w: transport returned no connection", ErrJoinFailed)
	}
	if s.closed {
		s.state = Disconnected
		if err := conn.Disconnect(); err != nil {
			s.logger.Warnf("error disconnecting voice connection: %v", err)
		}
		s.logger.Infof("dropping join of %s, controller closed", channelID)
		return ErrClosed
	}

	s.conn = conn
	s.channelID = channelID
	s.joinedAt = time.Now()
	s.duration = stats.NewDurationCounter()
	s.state = Connected
	s.attachListenersLocked()
	s.options.Metrics.VoiceConnected()

	s.logger.Infof("joined voice channel %s", channelID)
	return nil
}

// Leave disconnects the session. It is a no-op when not connected.
func (s *GuildSession) Leave() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != Connected {
		return
	}
	s.teardownLocked()
	s.logger.Info("left voice channel")
}

// close leaves the session and makes every later or in-flight join fail.
func (s *GuildSession) close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	if s.state == Connected {
		s.teardownLocked()
	}
}

// handleRemoved tears the session down after the bot was removed from the channel.
func (s *GuildSession) handleRemoved() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != Connected {
		return
	}
	s.teardownLocked()
	s.logger.Info("removed from voice channel")
}

// handleMoved records a server-side move of the bot to channelID.
func (s *GuildSession) handleMoved(channelID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != Connected || s.channelID == channelID {
		return
	}
	s.logger.Infof("moved from %s to %s", s.channelID, channelID)
	s.channelID = channelID
}

// NotifyTrackEnd delivers a track-end event to the session listeners.
func (s *GuildSession) NotifyTrackEnd() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state != Connected {
		return false
	}
	select {
	case s.events <- VoiceEvent{Type: EventTrackEnd, GuildID: s.GuildID, At: time.Now()}:
		return true
	default:
		s.logger.Warn("voice event channel is full, dropping track end")
		return false
	}
}

// teardownLocked stops the listeners and waits for them before dropping the connection.
// No tick is counted once it returns.
func (s *GuildSession) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
		s.done = nil
	}
	if s.conn != nil {
		if err := s.conn.Disconnect(); err != nil {
			s.logger.Warnf("error disconnecting voice connection: %v", err)
		}
	}
	if s.state == Connected {
		s.options.Metrics.VoiceDisconnected()
	}
	s.conn = nil
	s.channelID = ""
	s.events = nil
	s.state = Disconnected
}
