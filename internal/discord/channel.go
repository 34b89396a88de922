package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// TextChannel posts pipeline replies to a fixed guild text channel.
type TextChannel struct {
	API       API
	ChannelID string
}

// Send implements pipeline.Channel.
func (c TextChannel) Send(_ context.Context, text string) error {
	if _, err := c.API.ChannelMessageSend(c.ChannelID, text); err != nil {
		return fmt.Errorf("discord: send to %s: %w", c.ChannelID, err)
	}
	return nil
}

// InteractionChannel posts pipeline replies as follow-ups to a deferred
// slash command.
type InteractionChannel struct {
	API         API
	Interaction *discordgo.InteractionCreate
}

// Send implements pipeline.Channel.
func (c InteractionChannel) Send(_ context.Context, text string) error {
	return FollowUp(c.API, c.Interaction, text)
}

// Members resolves user ids to guild display names: the server nickname,
// then the global display name, then the username. Lookups are cached.
type Members struct {
	API     API
	GuildID string

	mu    sync.RWMutex
	names map[string]string
}

// DisplayName implements pipeline.NameResolver.
func (m *Members) DisplayName(_ context.Context, userID string) (string, error) {
	m.mu.RLock()
	name, ok := m.names[userID]
	m.mu.RUnlock()
	if ok {
		return name, nil
	}

	member, err := m.API.GuildMember(m.GuildID, userID)
	if err != nil {
		return "", fmt.Errorf("discord: member %s: %w", userID, err)
	}
	name = memberName(member)
	if name == "" {
		return "", fmt.Errorf("discord: member %s has no name", userID)
	}

	m.mu.Lock()
	if m.names == nil {
		m.names = make(map[string]string)
	}
	m.names[userID] = name
	m.mu.Unlock()
	return name, nil
}

// Forget drops a cached name, e.g. after a nickname change.
func (m *Members) Forget(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.names, userID)
}

func memberName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
