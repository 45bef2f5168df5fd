// Package handlers turns gateway events into command dispatches and sends the one
// response each of them is owed.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"chimebot/discord"
	"chimebot/sentryhelper"
	"chimebot/stats"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

type EventKind string

const (
	EventReady       EventKind = "ready"
	EventInteraction EventKind = "interaction_create"
	EventMessage     EventKind = "message_create"
	EventVoiceState  EventKind = "voice_state_update"
)

// Event is one gateway event. Only the payload matching Kind is set.
type Event struct {
	Kind        EventKind
	Ready       *discordgo.Ready
	Interaction *discordgo.InteractionCreate
	Message     *discordgo.MessageCreate
	VoiceState  *discordgo.VoiceStateUpdate
}

// Session is the part of *discordgo.Session the manager talks to.
type Session interface {
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// HandlerRegistrar is satisfied by *discordgo.Session.
type HandlerRegistrar interface {
	AddHandler(handler interface{}) func()
}

// BotVoiceStateSink receives voice state changes of the bot user.
type BotVoiceStateSink interface {
	HandleBotVoiceState(guildID string, channelID string)
}

type Options struct {
	AppID         string
	Catalog       Catalog
	PrefixEnabled bool
	Prefix        string
	Metrics       *stats.Metrics
}

type Manager struct {
	session    Session
	dispatcher *Dispatcher
	voice      BotVoiceStateSink
	options    Options

	registered atomic.Bool
	connected  atomic.Bool
	botMutex   sync.RWMutex
	botUserID  string

	logger *log.Entry
}

func NewManager(session Session, dispatcher *Dispatcher, voice BotVoiceStateSink, options Options) *Manager {
	if options.Prefix == "" {
		options.Prefix = "~"
	}
	return &Manager{
		session:    session,
		dispatcher: dispatcher,
		voice:      voice,
		options:    options,
		logger: log.WithFields(log.Fields{
			"module": "handlers",
		}),
	}
}

// Attach registers one gateway handler per event kind and returns the removers.
func (m *Manager) Attach(registrar HandlerRegistrar) []func() {
	return []func(){
		registrar.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			m.Handle(context.Background(), Event{Kind: EventReady, Ready: r})
		}),
		registrar.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			m.Handle(context.Background(), Event{Kind: EventInteraction, Interaction: i})
		}),
		registrar.AddHandler(func(_ *discordgo.Session, msg *discordgo.MessageCreate) {
			m.Handle(context.Background(), Event{Kind: EventMessage, Message: msg})
		}),
		registrar.AddHandler(func(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
			m.Handle(context.Background(), Event{Kind: EventVoiceState, VoiceState: vs})
		}),
		registrar.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			m.connected.Store(false)
		}),
	}
}

func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// SetBotUserID records the bot user. Ready also sets it.
func (m *Manager) SetBotUserID(userID string) {
	m.botMutex.Lock()
	defer m.botMutex.Unlock()
	m.botUserID = userID
}

func (m *Manager) BotUserID() string {
	m.botMutex.RLock()
	defer m.botMutex.RUnlock()
	return m.botUserID
}

func (m *Manager) Handle(ctx context.Context, event Event) {
	switch event.Kind {
	case EventReady:
		if event.Ready != nil {
			m.onReady(ctx, event.Ready)
		}
	case EventInteraction:
		if event.Interaction != nil && event.Interaction.Interaction != nil {
			m.onInteraction(ctx, event.Interaction.Interaction)
		}
	case EventMessage:
		if event.Message != nil && event.Message.Message != nil {
			m.onMessage(ctx, event.Message.Message)
		}
	case EventVoiceState:
		if event.VoiceState != nil && event.VoiceState.VoiceState != nil {
			m.onVoiceState(event.VoiceState.VoiceState)
		}
	default:
		m.logger.Warnf("unknown event kind: %s", event.Kind)
	}
}

func (m *Manager) onReady(ctx context.Context, ready *discordgo.Ready) {
	m.connected.Store(true)
	m.options.Metrics.ObserveReady()

	if ready.User != nil {
		m.SetBotUserID(ready.User.ID)
		m.logger.Infof("%s is connected!", ready.User.Username)
	}

	if !m.registered.CompareAndSwap(false, true) {
		m.logger.Debug("reconnected, commands already registered")
		return
	}

	if err := m.RegisterCommands(); err != nil {
		m.options.Metrics.ObserveFailure("registration")
		sentryhelper.CaptureException(ctx, err)
		m.logger.Errorf("error registering commands: %v", err)
	}
}

// RegisterCommands overwrites the remote catalog with the configured commands.
// Overwriting keeps registration idempotent.
func (m *Manager) RegisterCommands() error {
	var errs []error

	created, err := m.session.ApplicationCommandBulkOverwrite(m.options.AppID, "", m.options.Catalog.Global)
	if err != nil {
		errs = append(errs, fmt.Errorf("global commands: %w", err))
	} else {
		m.logger.Infof("registered %d global commands", len(created))
	}

	if m.options.Catalog.GuildID != "" {
		created, err := m.session.ApplicationCommandBulkOverwrite(m.options.AppID, m.options.Catalog.GuildID, m.options.Catalog.Guild)
		if err != nil {
			errs = append(errs, fmt.Errorf("guild %s commands: %w", m.options.Catalog.GuildID, err))
		} else {
			m.logger.WithField("guild_id", m.options.Catalog.GuildID).Infof("registered %d guild commands", len(created))
		}
	}

	return errors.Join(errs...)
}

func (m *Manager) onInteraction(ctx context.Context, interaction *discordgo.Interaction) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	req, buildErr := requestFromInteraction(interaction)
	logger := m.logger.WithFields(log.Fields{
		"command":  req.Name,
		"guild_id": req.GuildID,
		"user_id":  req.UserID,
	})
	logger.Debug("received command")

	ctx, transaction := sentryhelper.StartCommandTransaction(ctx, req.sentryCommand())
	defer transaction.Finish()

	var reply Reply
	if buildErr != nil {
		m.options.Metrics.ObserveFailure("malformed")
		sentryhelper.CaptureException(ctx, buildErr)
		logger.Errorf("error reading interaction: %v", buildErr)
		reply = Reply{Content: ReplyError, Ephemeral: true}
	} else {
		reply = m.dispatch(ctx, req)
	}

	span := sentryhelper.StartSpan(ctx, "discord.interaction_respond")
	err := m.session.InteractionRespond(interaction, discord.ChannelMessageResponse(reply.Content, reply.Ephemeral))
	sentryhelper.Finish(span, err)
	if err != nil {
		m.options.Metrics.ObserveFailure("interaction")
		sentryhelper.CaptureException(ctx, err)
		logger.Errorf("error responding to interaction: %v", err)
	}
}

// dispatch recovers a panicking command into a generic reply, so the caller still
// sends exactly one response.
func (m *Manager) dispatch(ctx context.Context, req Request) (reply Reply) {
	defer func() {
		if err := recover(); err != nil {
			m.logger.WithField("command", req.Name).Errorf("Panic in command handling: %v", err)
			sentryhelper.CaptureException(ctx, fmt.Errorf("panic in /%s: %v", req.Name, err))
			reply = Reply{Content: ReplyError, Ephemeral: true}
		}
	}()
	return m.dispatcher.Dispatch(ctx, req)
}

// requestFromInteraction reads the command out of interaction. A payload whose data
// does not match its type is reported as an error rather than a panic.
func requestFromInteraction(interaction *discordgo.Interaction) (req Request, err error) {
	req = Request{
		GuildID:   interaction.GuildID,
		ChannelID: interaction.ChannelID,
		Source:    SourceSlash,
	}
	if user := discord.InvokingUser(interaction); user != nil {
		req.UserID = user.ID
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed application command data: %v", r)
		}
	}()

	data := interaction.ApplicationCommandData()
	req.Name = data.Name

	for _, opt := range data.Options {
		if opt.Name != OptionUser || opt.Type != discordgo.ApplicationCommandOptionUser {
			continue
		}
		userID, ok := opt.Value.(string)
		if !ok || userID == "" || data.Resolved == nil {
			break
		}
		if user, ok := data.Resolved.Users[userID]; ok && user != nil {
			req.User = user
		}
		break
	}
	return req, nil
}

func (m *Manager) onMessage(ctx context.Context, msg *discordgo.Message) {
	if !m.options.PrefixEnabled || msg.Author == nil || msg.Author.Bot {
		return
	}

	name, ok := m.parsePrefixCommand(msg.Content)
	if !ok {
		return
	}
	// "~~strike~~" and other chatter must stay unanswered
	if !m.options.Catalog.Has(name) {
		m.logger.WithField("guild_id", msg.GuildID).Tracef("ignoring unknown prefix command %q", name)
		return
	}

	req := Request{
		Name:      name,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		UserID:    msg.Author.ID,
		Source:    SourcePrefix,
	}
	botUserID := m.BotUserID()
	for _, mention := range msg.Mentions {
		if mention != nil && mention.ID != botUserID {
			req.User = mention
			break
		}
	}

	logger := m.logger.WithFields(log.Fields{
		"command":  req.Name,
		"guild_id": req.GuildID,
		"user_id":  req.UserID,
	})

	ctx, transaction := sentryhelper.StartCommandTransaction(ctx, req.sentryCommand())
	defer transaction.Finish()

	reply := m.dispatch(ctx, req)

	span := sentryhelper.StartSpan(ctx, "discord.message_reply")
	_, err := m.session.ChannelMessageSendReply(msg.ChannelID, reply.Content, msg.Reference())
	sentryhelper.Finish(span, err)
	if err != nil {
		m.options.Metrics.ObserveFailure("message")
		sentryhelper.CaptureException(ctx, err)
		logger.Errorf("error replying to message: %v", err)
	}
}

// parsePrefixCommand extracts the command name from "~name ..." or "@bot name ...".
func (m *Manager) parsePrefixCommand(content string) (string, bool) {
	content = strings.TrimSpace(content)

	var rest string
	switch {
	case strings.HasPrefix(content, m.options.Prefix):
		rest = strings.TrimPrefix(content, m.options.Prefix)
	default:
		botUserID := m.BotUserID()
		if botUserID == "" {
			return "", false
		}
		found := false
		for _, mention := range []string{"<@" + botUserID + ">", "<@!" + botUserID + ">"} {
			if strings.HasPrefix(content, mention) {
				rest = strings.TrimPrefix(content, mention)
				found = true
				break
			}
		}
		if !found {
			return "", false
		}
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

func (m *Manager) onVoiceState(vs *discordgo.VoiceState) {
	if m.voice == nil {
		return
	}
	botUserID := m.BotUserID()
	if botUserID == "" || vs.UserID != botUserID {
		return
	}
	m.voice.HandleBotVoiceState(vs.GuildID, vs.ChannelID)
}
