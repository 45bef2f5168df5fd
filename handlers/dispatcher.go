package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chimebot/controller"
	"chimebot/sentryhelper"
	"chimebot/stats"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

const (
	ReplyPing           = "Hey, I'm alive!"
	ReplyTest           = "Test successful"
	ReplyInvalidUser    = "Please provide a valid user"
	ReplyNotImplemented = "not implemented :("
	ReplyError          = "An error occurred while processing your command"

	ReplyJoinNoGuild    = "You can only use this command in a server"
	ReplyJoinNoChannel  = "Hey, join a voice channel first"
	ReplyJoinInProgress = "Already joining a voice channel, hang on"
	ReplyJoinFailed     = "Could not join your voice channel"

	// CounterUnknown is the single counter key shared by every unrecognized name.
	CounterUnknown = "unknown"
)

type Source string

const (
	SourceSlash  Source = "slash"
	SourcePrefix Source = "prefix"
)

// Request is a command invocation, independent of how it reached the bot.
type Request struct {
	Name      string
	GuildID   string
	ChannelID string
	UserID    string
	// User is the resolved "user" option, nil when absent or unresolved.
	User   *discordgo.User
	Source Source
}

func (r Request) sentryCommand() sentryhelper.Command {
	return sentryhelper.Command{
		Name:    r.Name,
		Source:  string(r.Source),
		GuildID: r.GuildID,
		UserID:  r.UserID,
	}
}

type Reply struct {
	Content   string
	Ephemeral bool
}

// VoiceJoiner is implemented by *controller.Controller.
type VoiceJoiner interface {
	JoinVoiceChannel(ctx context.Context, guildID string, userID string) (*controller.GuildSession, error)
}

// OwnerChecker is implemented by *discord.Identity.
type OwnerChecker interface {
	IsOwner(userID string) bool
}

type HelpOptions struct {
	Catalog Catalog
	// Owners additionally see the invocation counts. May be nil.
	Owners OwnerChecker
	Prefix string
}

type Dispatcher struct {
	counter *stats.CommandCounter
	metrics *stats.Metrics
	voice   VoiceJoiner
	help    HelpOptions
}

// NewDispatcher builds a dispatcher. A nil voice disables the join command.
func NewDispatcher(counter *stats.CommandCounter, metrics *stats.Metrics, voice VoiceJoiner) *Dispatcher {
	if counter == nil {
		counter = stats.NewCommandCounter()
	}
	return &Dispatcher{
		counter: counter,
		metrics: metrics,
		voice:   voice,
		help: HelpOptions{
			Catalog: NewCatalog(voice != nil, ""),
			Prefix:  "~",
		},
	}
}

// WithHelp sets what the help command lists.
func (d *Dispatcher) WithHelp(options HelpOptions) *Dispatcher {
	if options.Prefix == "" {
		options.Prefix = "~"
	}
	d.help = options
	return d
}

func (d *Dispatcher) Counter() *stats.CommandCounter {
	return d.counter
}

// Dispatch runs the command named by req and returns the single reply for it.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Reply {
	label := counterLabel(req.Name)
	d.counter.Increment(label)
	d.metrics.ObserveCommand(label)

	switch req.Name {
	case CommandPing:
		return Reply{Content: ReplyPing}
	case CommandTest:
		return Reply{Content: ReplyTest}
	case CommandID:
		return d.handleID(req)
	case CommandJoin:
		if d.voice == nil {
			return Reply{Content: ReplyNotImplemented}
		}
		return d.handleJoin(ctx, req)
	case CommandHelp:
		return d.handleHelp(req)
	default:
		return Reply{Content: ReplyNotImplemented}
	}
}

// counterLabel keeps user-typed names from growing the counter and metric label sets.
func counterLabel(name string) string {
	switch name {
	case CommandPing, CommandTest, CommandID, CommandJoin, CommandHelp:
		return name
	default:
		return CounterUnknown
	}
}

func (d *Dispatcher) handleHelp(req Request) Reply {
	marker := "/"
	if req.Source == SourcePrefix {
		marker = d.help.Prefix
	}

	var b strings.Builder
	b.WriteString("**Commands**\n")
	for _, cmd := range d.help.Catalog.Commands() {
		fmt.Fprintf(&b, "`%s%s` %s\n", marker, cmd.Name, cmd.Description)
	}

	if d.help.Owners != nil && d.help.Owners.IsOwner(req.UserID) {
		b.WriteString("\n**Invocations**\n")
		for _, name := range d.counter.Names() {
			fmt.Fprintf(&b, "`%s` %d\n", name, d.counter.Count(name))
		}
	}

	return Reply{
		Content:   strings.TrimRight(b.String(), "\n"),
		Ephemeral: req.Source == SourceSlash,
	}
}

func (d *Dispatcher) handleID(req Request) Reply {
	if req.User == nil || req.User.ID == "" {
		return Reply{Content: ReplyInvalidUser}
	}
	return Reply{Content: fmt.Sprintf("%s's id is %s", req.User.String(), req.User.ID)}
}

func (d *Dispatcher) handleJoin(ctx context.Context, req Request) Reply {
	logger := log.WithFields(log.Fields{
		"module":   "handlers",
		"command":  req.Name,
		"guild_id": req.GuildID,
		"user_id":  req.UserID,
	})

	sentryhelper.AddBreadcrumb(ctx, "voice", "joining the invoking member's channel")
	session, err := d.voice.JoinVoiceChannel(ctx, req.GuildID, req.UserID)
	if err != nil {
		logger.Debugf("join failed: %v", err)
		if errors.Is(err, controller.ErrJoinFailed) {
			sentryhelper.CaptureException(ctx, err)
		}
		return Reply{Content: joinFailureReply(err), Ephemeral: true}
	}
	return Reply{Content: fmt.Sprintf("Joined <#%s>", session.ChannelID())}
}

func joinFailureReply(err error) string {
	switch {
	case errors.Is(err, controller.ErrNoGuild):
		return ReplyJoinNoGuild
	case errors.Is(err, controller.ErrNoVoiceChannel):
		return ReplyJoinNoChannel
	case errors.Is(err, controller.ErrJoinInProgress):
		return ReplyJoinInProgress
	default:
		return ReplyJoinFailed
	}
}
