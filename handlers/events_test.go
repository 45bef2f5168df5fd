package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"chimebot/stats"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession keeps the remote catalog per guild the way Discord does on bulk overwrite.
type fakeSession struct {
	mutex      sync.Mutex
	catalogs   map[string][]string
	overwrites int
	responses  []*discordgo.InteractionResponse
	replies    []string
	references []*discordgo.MessageReference

	overwriteErr error
	respondErr   error
}

func newFakeSession() *fakeSession {
	return &fakeSession{catalogs: make(map[string][]string)}
}

func (s *fakeSession) ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.overwrites++
	if s.overwriteErr != nil {
		return nil, s.overwriteErr
	}
	names := make([]string, 0, len(commands))
	for _, cmd := range commands {
		names = append(names, cmd.Name)
	}
	s.catalogs[guildID] = names
	return commands, nil
}

func (s *fakeSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.responses = append(s.responses, resp)
	return s.respondErr
}

func (s *fakeSession) ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.replies = append(s.replies, content)
	s.references = append(s.references, reference)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

type fakeVoiceSink struct {
	updates []string
}

func (f *fakeVoiceSink) HandleBotVoiceState(guildID string, channelID string) {
	f.updates = append(f.updates, guildID+"/"+channelID)
}

func newTestManager(session *fakeSession, voice VoiceJoiner, sink BotVoiceStateSink, prefix bool) (*Manager, *stats.Metrics) {
	metrics := stats.NewMetrics(prometheus.NewRegistry())
	dispatcher := NewDispatcher(stats.NewCommandCounter(), metrics, voice)
	manager := NewManager(session, dispatcher, sink, Options{
		AppID:         "100",
		Catalog:       NewCatalog(true, "555"),
		PrefixEnabled: prefix,
		Metrics:       metrics,
	})
	return manager, metrics
}

func readyEvent() Event {
	return Event{Kind: EventReady, Ready: &discordgo.Ready{
		User: &discordgo.User{ID: "999", Username: "chimebot"},
	}}
}

func commandEvent(data discordgo.ApplicationCommandInteractionData) Event {
	return Event{Kind: EventInteraction, Interaction: &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "g1",
			ChannelID: "c1",
			Member:    &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "caller"}},
			Data:      data,
		},
	}}
}

func TestRegisterCommandsIsIdempotent(t *testing.T) {
	session := newFakeSession()
	manager, _ := newTestManager(session, nil, nil, false)

	require.NoError(t, manager.RegisterCommands())
	first := map[string][]string{}
	for guild, names := range session.catalogs {
		first[guild] = append([]string(nil), names...)
	}

	require.NoError(t, manager.RegisterCommands())
	assert.Equal(t, first, session.catalogs)
	assert.Equal(t, []string{CommandPing, CommandID, CommandJoin, CommandHelp}, session.catalogs[""])
	assert.Equal(t, []string{CommandTest}, session.catalogs["555"])
}

func TestReadyRegistersOnce(t *testing.T) {
	session := newFakeSession()
	manager, metrics := newTestManager(session, nil, nil, false)

	manager.Handle(context.Background(), readyEvent())
	manager.Handle(context.Background(), readyEvent())

	assert.Equal(t, 2, session.overwrites, "global and guild overwrite on the first ready only")
	assert.Equal(t, "999", manager.BotUserID())
	assert.True(t, manager.Connected())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.GatewayReady))
}

func TestReadyRegistrationFailureIsSwallowed(t *testing.T) {
	session := newFakeSession()
	session.overwriteErr = errors.New("401 unauthorized")
	manager, metrics := newTestManager(session, nil, nil, false)

	err := manager.RegisterCommands()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "global commands")
	assert.Contains(t, err.Error(), "guild 555 commands")

	manager.Handle(context.Background(), readyEvent())
	assert.True(t, manager.Connected())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ResponseFailures.WithLabelValues("registration")))
}

func TestInteractionRespondsOnce(t *testing.T) {
	tests := []struct {
		name string
		data discordgo.ApplicationCommandInteractionData
		want string
	}{
		{
			name: "ping",
			data: discordgo.ApplicationCommandInteractionData{Name: CommandPing},
			want: ReplyPing,
		},
		{
			name: "resolved user",
			data: discordgo.ApplicationCommandInteractionData{
				Name: CommandID,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{{
					Name:  OptionUser,
					Type:  discordgo.ApplicationCommandOptionUser,
					Value: "42",
				}},
				Resolved: &discordgo.ApplicationCommandInteractionDataResolved{
					Users: map[string]*discordgo.User{
						"42": {ID: "42", Username: "Alice", Discriminator: "0001"},
					},
				},
			},
			want: "Alice#0001's id is 42",
		},
		{
			name: "unresolved user",
			data: discordgo.ApplicationCommandInteractionData{
				Name: CommandID,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{{
					Name:  OptionUser,
					Type:  discordgo.ApplicationCommandOptionUser,
					Value: "42",
				}},
			},
			want: ReplyInvalidUser,
		},
		{
			name: "no option",
			data: discordgo.ApplicationCommandInteractionData{Name: CommandID},
			want: ReplyInvalidUser,
		},
		{
			name: "unknown",
			data: discordgo.ApplicationCommandInteractionData{Name: "dance"},
			want: ReplyNotImplemented,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession()
			manager, _ := newTestManager(session, nil, nil, false)

			manager.Handle(context.Background(), commandEvent(tt.data))

			require.Len(t, session.responses, 1)
			resp := session.responses[0]
			assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type)
			assert.Equal(t, tt.want, resp.Data.Content)
		})
	}
}

func TestInteractionPanicStillResponds(t *testing.T) {
	session := newFakeSession()
	manager, _ := newTestManager(session, &fakeJoiner{panicky: true}, nil, false)

	assert.NotPanics(t, func() {
		manager.Handle(context.Background(), commandEvent(discordgo.ApplicationCommandInteractionData{Name: CommandJoin}))
	})

	require.Len(t, session.responses, 1)
	assert.Equal(t, ReplyError, session.responses[0].Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, session.responses[0].Data.Flags)
}

func TestInteractionRespondFailureIsSwallowed(t *testing.T) {
	session := newFakeSession()
	session.respondErr = errors.New("unknown interaction")
	manager, metrics := newTestManager(session, nil, nil, false)

	manager.Handle(context.Background(), commandEvent(discordgo.ApplicationCommandInteractionData{Name: CommandPing}))

	assert.Len(t, session.responses, 1, "no retry")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ResponseFailures.WithLabelValues("interaction")))
}

func TestNonCommandInteractionIsIgnored(t *testing.T) {
	session := newFakeSession()
	manager, _ := newTestManager(session, nil, nil, false)

	manager.Handle(context.Background(), Event{Kind: EventInteraction, Interaction: &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing},
	}})
	assert.Empty(t, session.responses)
}

func messageEvent(content string, mentions ...*discordgo.User) Event {
	return Event{Kind: EventMessage, Message: &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   content,
		Author:    &discordgo.User{ID: "u1", Username: "caller"},
		Mentions:  mentions,
	}}}
}

func TestPrefixCommands(t *testing.T) {
	alice := &discordgo.User{ID: "42", Username: "Alice", Discriminator: "0001"}
	bot := &discordgo.User{ID: "999", Username: "chimebot", Bot: true}

	tests := []struct {
		name  string
		event Event
		want  []string
	}{
		{"prefix ping", messageEvent("~ping"), []string{ReplyPing}},
		{"prefix is case insensitive", messageEvent("~PING extra words"), []string{ReplyPing}},
		{"prefix id", messageEvent("~id <@42>", alice), []string{"Alice#0001's id is 42"}},
		{"prefix id without mention", messageEvent("~id"), []string{ReplyInvalidUser}},
		{"mention ping", messageEvent("<@999> ping", bot), []string{ReplyPing}},
		{"nickname mention", messageEvent("<@!999> test", bot), []string{ReplyTest}},
		{"mention skips bot for id", messageEvent("<@999> id <@42>", bot, alice), []string{"Alice#0001's id is 42"}},
		{"bare prefix", messageEvent("~"), nil},
		{"plain chatter", messageEvent("hello there"), nil},
		{"unknown stays silent", messageEvent("~dance"), nil},
		{"strikethrough", messageEvent("~~this was a joke~~"), nil},
		{"mention with unknown name", messageEvent("<@999> hello", bot), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession()
			manager, _ := newTestManager(session, nil, nil, true)
			manager.SetBotUserID("999")

			manager.Handle(context.Background(), tt.event)
			assert.Equal(t, tt.want, session.replies)
			if len(tt.want) > 0 {
				require.Len(t, session.references, 1)
				assert.Equal(t, "m1", session.references[0].MessageID)
			}
		})
	}
}

func TestPrefixCommandsIgnoredWhenDisabledOrFromBots(t *testing.T) {
	session := newFakeSession()
	manager, _ := newTestManager(session, nil, nil, false)
	manager.Handle(context.Background(), messageEvent("~ping"))
	assert.Empty(t, session.replies)

	session = newFakeSession()
	manager, _ = newTestManager(session, nil, nil, true)
	event := messageEvent("~ping")
	event.Message.Author.Bot = true
	manager.Handle(context.Background(), event)
	assert.Empty(t, session.replies)
}

func TestVoiceStateForwardsBotUpdatesOnly(t *testing.T) {
	sink := &fakeVoiceSink{}
	manager, _ := newTestManager(newFakeSession(), nil, sink, false)

	update := func(userID string, channelID string) Event {
		return Event{Kind: EventVoiceState, VoiceState: &discordgo.VoiceStateUpdate{
			VoiceState: &discordgo.VoiceState{GuildID: "g1", UserID: userID, ChannelID: channelID},
		}}
	}

	// before ready the bot id is unknown
	manager.Handle(context.Background(), update("999", "vc1"))
	assert.Empty(t, sink.updates)

	manager.SetBotUserID("999")
	manager.Handle(context.Background(), update("u1", "vc1"))
	manager.Handle(context.Background(), update("999", "vc2"))
	manager.Handle(context.Background(), update("999", ""))

	assert.Equal(t, []string{"g1/vc2", "g1/"}, sink.updates)
}

type fakeRegistrar struct {
	handlers []interface{}
}

func (r *fakeRegistrar) AddHandler(handler interface{}) func() {
	r.handlers = append(r.handlers, handler)
	return func() {}
}

func TestAttach(t *testing.T) {
	manager, _ := newTestManager(newFakeSession(), nil, nil, false)
	registrar := &fakeRegistrar{}

	removers := manager.Attach(registrar)
	assert.Len(t, removers, 5)
	require.Len(t, registrar.handlers, 5)

	onDisconnect, ok := registrar.handlers[4].(func(*discordgo.Session, *discordgo.Disconnect))
	require.True(t, ok)
	manager.Handle(context.Background(), readyEvent())
	require.True(t, manager.Connected())
	onDisconnect(nil, &discordgo.Disconnect{})
	assert.False(t, manager.Connected())
}

func TestPrefixChatterLeavesNoTrace(t *testing.T) {
	session := newFakeSession()
	manager, metrics := newTestManager(session, nil, nil, true)
	counter := manager.dispatcher.Counter()

	manager.Handle(context.Background(), messageEvent("~~this was a joke~~"))
	for i := 0; i < 500; i++ {
		manager.Handle(context.Background(), messageEvent(fmt.Sprintf("~x%d", i)))
	}

	assert.Empty(t, session.replies)
	assert.Empty(t, counter.Names())
	assert.Equal(t, 0, testutil.CollectAndCount(metrics.CommandInvocations))

	manager.Handle(context.Background(), messageEvent("~help"))
	require.Len(t, session.replies, 1)
	assert.Contains(t, session.replies[0], "`~ping`")
	assert.Equal(t, []string{CommandHelp}, counter.Names())
}

func TestMalformedInteractionStillResponds(t *testing.T) {
	session := newFakeSession()
	manager, metrics := newTestManager(session, nil, nil, false)

	event := commandEvent(discordgo.ApplicationCommandInteractionData{Name: CommandPing})
	// data of the wrong kind makes ApplicationCommandData panic
	event.Interaction.Data = discordgo.MessageComponentInteractionData{CustomID: "button"}

	assert.NotPanics(t, func() {
		manager.Handle(context.Background(), event)
	})

	require.Len(t, session.responses, 1)
	assert.Equal(t, ReplyError, session.responses[0].Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, session.responses[0].Data.Flags)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ResponseFailures.WithLabelValues("malformed")))
}
