package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/derfbot/internal/discord"
)

const joinTimeout = 30 * time.Second

// VoiceControl joins and leaves voice channels.
type VoiceControl interface {
	Join(ctx context.Context, channelID string) error
	Leave() error
}

// VoiceLocator finds the voice channel a user is in.
type VoiceLocator func(userID string) (channelID string, ok bool)

// VoiceCommands holds the dependencies of /join and /leave.
type VoiceCommands struct {
	ctx    context.Context
	voice  VoiceControl
	locate VoiceLocator
	role   discord.OperatorRole
}

// NewVoiceCommands creates the voice handlers. Only holders of role may use
// them.
func NewVoiceCommands(ctx context.Context, voice VoiceControl, locate VoiceLocator, role discord.OperatorRole) *VoiceCommands {
	return &VoiceCommands{ctx: ctx, voice: voice, locate: locate, role: role}
}

// Register registers /join and /leave with the router.
func (vc *VoiceCommands) Register(router *discord.CommandRouter) {
	router.Register(&discordgo.ApplicationCommand{
		Name:        "join",
		Description: "Join a voice channel (yours by default)",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "channel",
				Description:  "Voice channel to join",
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice},
			},
		},
	}, vc.role.Restrict(vc.handleJoin))
	router.Register(&discordgo.ApplicationCommand{
		Name:        "leave",
		Description: "Leave the voice channel",
	}, vc.role.Restrict(vc.handleLeave))
}

func (vc *VoiceCommands) handleJoin(api discord.API, i *discordgo.InteractionCreate) {
	channelID := ""
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "channel" {
			channelID = fmt.Sprint(opt.Value)
		}
	}
	if channelID == "" && vc.locate != nil {
		channelID, _ = vc.locate(discord.UserID(i))
	}
	if channelID == "" {
		discord.RespondEphemeral(api, i, "Join a voice channel first or pass one.")
		return
	}

	if err := discord.DeferReply(api, i); err != nil {
		slog.Warn("commands: join", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(vc.ctx, joinTimeout)
	defer cancel()
	if err := vc.voice.Join(ctx, channelID); err != nil {
		slog.Error("commands: join failed", "channel_id", channelID, "err", err)
		_ = discord.FollowUp(api, i, fmt.Sprintf("Could not join <#%s>: %v", channelID, err))
		return
	}
	_ = discord.FollowUp(api, i, fmt.Sprintf("Joined <#%s>.", channelID))
}

func (vc *VoiceCommands) handleLeave(api discord.API, i *discordgo.InteractionCreate) {
	if err := vc.voice.Leave(); err != nil {
		discord.RespondError(api, i, err)
		return
	}
	discord.RespondEphemeral(api, i, "Left the voice channel.")
}
