// Package commands implements the derfbot slash commands.
package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/derfbot/internal/discord"
	"github.com/MrWong99/derfbot/internal/pipeline"
	"github.com/MrWong99/derfbot/internal/queue"
	"github.com/MrWong99/derfbot/pkg/memory"
)

// Processor runs one request through the pipeline.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) error
}

// AskCommands holds the dependencies of /ask.
type AskCommands struct {
	ctx      context.Context
	identity string
	proc     Processor
	wg       sync.WaitGroup
}

// NewAskCommands creates the /ask handler. Requests run in the background
// under ctx, so cancelling ctx abandons them.
func NewAskCommands(ctx context.Context, identity string, proc Processor) *AskCommands {
	return &AskCommands{ctx: ctx, identity: identity, proc: proc}
}

// Register registers /ask with the router.
func (c *AskCommands) Register(router *discord.CommandRouter) {
	router.Register(c.Definition(), c.handleAsk)
}

// Definition returns the ApplicationCommand definition for Discord.
func (c *AskCommands) Definition() *discordgo.ApplicationCommand {
	name := c.identity
	if name == "" {
		name = queue.PrimaryIdentity
	}
	return &discordgo.ApplicationCommand{
		Name:        "ask",
		Description: "Ask " + name + " a question",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "question",
				Description: "What do you want to know?",
				Required:    true,
			},
		},
	}
}

// Wait blocks until every background request has finished.
func (c *AskCommands) Wait() { c.wg.Wait() }

func (c *AskCommands) handleAsk(api discord.API, i *discordgo.InteractionCreate) {
	question := ""
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "question" {
			question = strings.TrimSpace(opt.StringValue())
		}
	}
	if question == "" {
		discord.RespondEphemeral(api, i, "Please ask a question.")
		return
	}
	if err := discord.DeferReply(api, i); err != nil {
		slog.Warn("commands: ask", "err", err)
		return
	}

	userID := discord.UserID(i)
	req := pipeline.Request{
		ContextKey: i.ChannelID + ":" + userID,
		AuthorID:   userID,
		Message:    question,
		Source:     memory.SourceCommand,
		Channel:    discord.InteractionChannel{API: api, Interaction: i},
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.proc.Process(c.ctx, req)
		switch {
		case err == nil, errors.Is(err, queue.ErrTimeout), errors.Is(err, context.Canceled):
			// The channel has already been told.
		case errors.Is(err, pipeline.ErrDuplicate):
			_ = discord.FollowUp(api, i, "I'm already working on that question.")
		default:
			slog.Error("commands: ask failed", "identity", c.identity, "user", userID, "err", err)
			_ = discord.FollowUp(api, i, pipeline.ErrorReply)
		}
	}()
}
