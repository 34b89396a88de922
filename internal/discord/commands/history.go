package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/derfbot/internal/discord"
	"github.com/MrWong99/derfbot/pkg/memory"
)

const (
	historyLimit   = 5
	historyTimeout = 5 * time.Second
	embedNameMax   = 256
	embedValueMax  = 1024
)

// HistoryCommands holds the dependencies of /history.
type HistoryCommands struct {
	identity string
	journal  memory.Journal
}

// NewHistoryCommands creates the /history handler for identity.
func NewHistoryCommands(identity string, journal memory.Journal) *HistoryCommands {
	return &HistoryCommands{identity: identity, journal: journal}
}

// Register registers /history with the router.
func (hc *HistoryCommands) Register(router *discord.CommandRouter) {
	router.Register(&discordgo.ApplicationCommand{
		Name:        "history",
		Description: "Show recent questions and answers",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "search",
				Description: "Only show exchanges containing these words",
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "mine",
				Description: "Only show your own questions",
			},
		},
	}, hc.handleHistory)
}

func (hc *HistoryCommands) handleHistory(api discord.API, i *discordgo.InteractionCreate) {
	var query string
	var mine bool
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "search":
			query = strings.TrimSpace(opt.StringValue())
		case "mine":
			mine = opt.BoolValue()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	var (
		exchanges []memory.Exchange
		err       error
	)
	if query == "" && !mine {
		exchanges, err = hc.journal.Recent(ctx, hc.identity, historyLimit)
	} else {
		opts := memory.SearchOpts{Identity: hc.identity, Limit: historyLimit}
		if mine {
			opts.AuthorID = discord.UserID(i)
		}
		exchanges, err = hc.journal.Search(ctx, query, opts)
	}
	if err != nil {
		discord.RespondError(api, i, err)
		return
	}
	if len(exchanges) == 0 {
		discord.RespondEphemeral(api, i, "Nothing found.")
		return
	}
	discord.RespondEmbed(api, i, historyEmbed(hc.identity, exchanges))
}

func historyEmbed(identity string, exchanges []memory.Exchange) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("Recent questions for %s", identity),
		Color: 0x8B5A2B,
	}
	for _, e := range exchanges {
		answer := e.Response
		if e.Summary != "" {
			answer = e.Summary
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  truncate(fmt.Sprintf("%s (%s, %s)", e.Prompt, e.Source, e.CreatedAt.Format("Jan 2 15:04")), embedNameMax),
			Value: truncate(answer, embedValueMax),
		})
	}
	return embed
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
