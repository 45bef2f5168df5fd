package handlers

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

const (
	CommandPing = "ping"
	CommandTest = "test"
	CommandID   = "id"
	CommandJoin = "join"
	CommandHelp = "help"

	OptionUser = "user"
)

// Catalog is the set of application commands pushed to Discord on the first Ready.
type Catalog struct {
	Global  []*discordgo.ApplicationCommand
	Guild   []*discordgo.ApplicationCommand
	GuildID string
}

func NewCatalog(voiceEnabled bool, testGuildID string) Catalog {
	global := []*discordgo.ApplicationCommand{
		{
			Name:        CommandPing,
			Description: "Check whether the bot is alive",
		},
		{
			Name:        CommandID,
			Description: "Get a user's id",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        OptionUser,
				Description: "The user to lookup",
				Required:    true,
			}},
		},
	}
	if voiceEnabled {
		global = append(global, &discordgo.ApplicationCommand{
			Name:        CommandJoin,
			Description: "Join your current voice channel",
		})
	}
	global = append(global, &discordgo.ApplicationCommand{
		Name:        CommandHelp,
		Description: "List the available commands",
	})

	catalog := Catalog{Global: global}
	if testGuildID != "" {
		catalog.GuildID = testGuildID
		catalog.Guild = []*discordgo.ApplicationCommand{
			{
				Name:        CommandTest,
				Description: "A guild-only test command",
			},
		}
	}
	return catalog
}

// Commands returns the global commands followed by the guild commands.
func (c Catalog) Commands() []*discordgo.ApplicationCommand {
	commands := make([]*discordgo.ApplicationCommand, 0, len(c.Global)+len(c.Guild))
	commands = append(commands, c.Global...)
	return append(commands, c.Guild...)
}

func (c Catalog) Names() []string {
	commands := c.Commands()
	names := make([]string, 0, len(commands))
	for _, cmd := range commands {
		names = append(names, cmd.Name)
	}
	return names
}

func (c Catalog) Has(name string) bool {
	return slices.Contains(c.Names(), name)
}
