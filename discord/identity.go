package discord

import (
	"fmt"
	"sort"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

// IdentityAPI is the part of the REST client needed to identify the bot at startup.
type IdentityAPI interface {
	Application(appID string) (*discordgo.Application, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

type Identity struct {
	ApplicationID string
	BotUserID     string
	BotName       string
	Owners        map[string]struct{}
}

func (i *Identity) IsOwner(userID string) bool {
	_, ok := i.Owners[userID]
	return ok
}

func (i *Identity) OwnerIDs() []string {
	ids := make([]string, 0, len(i.Owners))
	for id := range i.Owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FetchIdentity looks up the application owners and the bot user. Either lookup
// failing is fatal for startup.
func FetchIdentity(api IdentityAPI, appID string) (*Identity, error) {
	app, err := api.Application("@me")
	if err != nil {
		return nil, fmt.Errorf("could not access application info: %w", err)
	}

	owners := make(map[string]struct{})
	if app.Team != nil && app.Team.OwnerID != "" {
		owners[app.Team.OwnerID] = struct{}{}
	} else if app.Owner != nil {
		owners[app.Owner.ID] = struct{}{}
	}

	if appID != "" && app.ID != "" && app.ID != appID {
		log.WithField("module", "discord").Warnf("APPLICATION_ID %s does not match the token's application %s", appID, app.ID)
	}

	user, err := api.User("@me")
	if err != nil {
		return nil, fmt.Errorf("could not access the bot user: %w", err)
	}

	return &Identity{
		ApplicationID: appID,
		BotUserID:     user.ID,
		BotName:       user.Username,
		Owners:        owners,
	}, nil
}
