// Package discord provides an [audio.Platform] backed by Discord voice
// channels via bwmarrin/discordgo.
//
// The platform borrows an open *discordgo.Session owned by the bot layer. Each
// [Platform.Connect] joins a voice channel of the configured guild and returns
// a [Connection] that decodes every speaker's Opus stream into the capture
// sink and sends pre-encoded Opus clips back.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/derfbot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using a discordgo session.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New creates a Discord Platform for the given session and guild.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{session: session, guildID: guildID}
}

// Connect joins channelID unmuted and undeafened and starts decoding received
// audio into sink.
func (p *Platform) Connect(ctx context.Context, channelID string, sink audio.PacketSink) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc, sink), nil
}

// HumanPresent reports whether a non-bot member is in channelID, based on the
// gateway state cache. Members missing from the cache are fetched once.
func (p *Platform) HumanPresent(channelID string) (bool, error) {
	guild, err := p.session.State.Guild(p.guildID)
	if err != nil {
		return false, fmt.Errorf("discord: guild %q state: %w", p.guildID, err)
	}
	// VoiceStates is rewritten by the gateway under the state lock; the
	// member lookups below take that lock themselves.
	p.session.State.RLock()
	var present []discordgo.VoiceState
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID {
			present = append(present, *vs)
		}
	}
	p.session.State.RUnlock()

	for i := range present {
		bot, err := p.isBot(&present[i])
		if err != nil {
			return false, err
		}
		if !bot {
			return true, nil
		}
	}
	return false, nil
}

func (p *Platform) isBot(vs *discordgo.VoiceState) (bool, error) {
	if vs.Member != nil && vs.Member.User != nil {
		return vs.Member.User.Bot, nil
	}
	if m, err := p.session.State.Member(p.guildID, vs.UserID); err == nil && m.User != nil {
		return m.User.Bot, nil
	}
	m, err := p.session.GuildMember(p.guildID, vs.UserID)
	if err != nil {
		return false, fmt.Errorf("discord: fetch member %q: %w", vs.UserID, err)
	}
	_ = p.session.State.MemberAdd(m)
	return m.User != nil && m.User.Bot, nil
}
