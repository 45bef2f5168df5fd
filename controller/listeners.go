package controller

import (
	"context"
	"time"

	"chimebot/stats"

	log "github.com/sirupsen/logrus"
)

type VoiceEventType string

const (
	EventTrackEnd VoiceEventType = "track_end"
	EventTick     VoiceEventType = "tick"
)

type VoiceEvent struct {
	Type    VoiceEventType
	GuildID string
	At      time.Time
}

// Listener reacts to voice events of the type it is registered for.
type Listener interface {
	Handle(event VoiceEvent)
}

// TrackEndListener fires when a queued track finishes. Nothing is announced yet.
type TrackEndListener struct {
	logger *log.Entry
}

func (l *TrackEndListener) Handle(event VoiceEvent) {
	l.logger.Tracef("track ended at %s", event.At.Format(time.RFC3339))
}

// PeriodicListener counts elapsed periods while the session is connected.
type PeriodicListener struct {
	counter *stats.DurationCounter
	metrics *stats.Metrics
	logger  *log.Entry
}

func (l *PeriodicListener) Handle(event VoiceEvent) {
	ticks := l.counter.Increment()
	l.metrics.ObserveVoiceTick()
	l.logger.Tracef("voice tick %d", ticks)
}

// Ticker is the subset of time.Ticker used by the periodic listener.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.ticker.C }
func (t timeTicker) Stop()               { t.ticker.Stop() }

func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{ticker: time.NewTicker(d)}
}

// attachListenersLocked starts the goroutine that services ticks and voice events
// for the current connection.
func (s *GuildSession) attachListenersLocked() {
	listeners := map[VoiceEventType][]Listener{
		EventTrackEnd: {&TrackEndListener{logger: s.logger}},
		EventTick: {&PeriodicListener{
			counter: s.duration,
			metrics: s.options.Metrics,
			logger:  s.logger,
		}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan VoiceEvent, 16)
	done := make(chan struct{})
	ticker := s.options.NewTicker(s.options.TickInterval)

	s.events = events
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case at := <-ticker.C():
				// a tick racing the cancel must not be counted
				if ctx.Err() != nil {
					return
				}
				dispatchEvent(listeners, VoiceEvent{Type: EventTick, GuildID: s.GuildID, At: at})
			case event := <-events:
				dispatchEvent(listeners, event)
			}
		}
	}()
}

func dispatchEvent(listeners map[VoiceEventType][]Listener, event VoiceEvent) {
	for _, listener := range listeners[event.Type] {
		listener.Handle(event)
	}
}
