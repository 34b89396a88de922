// Package discord provides the Discord bot layer for derfbot. Each bot
// identity gets its own gateway session; the package routes slash command
// interactions, gates operator commands on a role and adapts Discord
// channels and members to the pipeline's capability interfaces.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/derfbot/pkg/audio"
	discordaudio "github.com/MrWong99/derfbot/pkg/audio/discord"
)

// Config holds the configuration of one bot identity.
type Config struct {
	// Identity names the persona ("derf", "nic").
	Identity string

	// Token is the bot token without the "Bot " prefix.
	Token string

	GuildID string

	// OperatorRoleID may join and leave voice. Empty allows everyone.
	OperatorRoleID string
}

// Bot owns one Discord gateway connection and routes its interactions.
type Bot struct {
	mu        sync.RWMutex
	identity  string
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	operator  OperatorRole
	members   *Members
	guildID   string
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once

	leaveMu sync.RWMutex
	onLeave []func(userID string)
}

// New creates a Bot and connects to Discord.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers

	b := &Bot{
		identity: cfg.Identity,
		session:  session,
		platform: discordaudio.New(session, cfg.GuildID),
		router:   NewCommandRouter(),
		operator: OperatorRole(cfg.OperatorRoleID),
		members:  &Members{API: session, GuildID: cfg.GuildID},
		guildID:  cfg.GuildID,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	session.AddHandler(func(_ *discordgo.Session, u *discordgo.GuildMemberUpdate) {
		if u.Member != nil && u.Member.User != nil {
			b.members.Forget(u.Member.User.ID)
		}
	})
	session.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		if v.BeforeUpdate != nil && v.BeforeUpdate.ChannelID != "" && v.ChannelID != v.BeforeUpdate.ChannelID {
			b.notifyLeave(v.UserID)
		}
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session for %s: %w", cfg.Identity, err)
	}
	slog.Info("discord session open", "identity", cfg.Identity)
	return b, nil
}

// Identity returns the persona this bot speaks for.
func (b *Bot) Identity() string { return b.identity }

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// GuildID returns the target guild ID.
func (b *Bot) GuildID() string {
	return b.guildID
}

// API returns the session as the narrow API used by handlers.
func (b *Bot) API() API {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Operator returns the role that may run restricted commands.
func (b *Bot) Operator() OperatorRole {
	return b.operator
}

// Members returns the cached display-name resolver for the guild.
func (b *Bot) Members() *Members {
	return b.members
}

// OnVoiceLeave registers fn to run whenever a user leaves or switches voice
// channels.
func (b *Bot) OnVoiceLeave(fn func(userID string)) {
	b.leaveMu.Lock()
	defer b.leaveMu.Unlock()
	b.onLeave = append(b.onLeave, fn)
}

func (b *Bot) notifyLeave(userID string) {
	b.leaveMu.RLock()
	defer b.leaveMu.RUnlock()
	for _, fn := range b.onLeave {
		fn(userID)
	}
}

// UserVoiceChannel returns the voice channel userID is currently in, from
// the gateway state cache.
func (b *Bot) UserVoiceChannel(userID string) (string, bool) {
	vs, err := b.Session().State.VoiceState(b.guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// Run registers slash commands and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands for %s: %w", b.identity, err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "identity", b.identity, "count", len(registered))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters the commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session != nil && len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed", "identity", b.identity)
	})
	return closeErr
}
