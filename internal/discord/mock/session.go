// Package mock provides a test double for the discord.API interface.
package mock

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Message is one message sent through ChannelMessageSend.
type Message struct {
	ChannelID string
	Content   string
}

// API records interaction responses, follow-ups and channel messages.
type API struct {
	mu sync.Mutex

	// Members is returned by GuildMember, keyed by user id.
	Members map[string]*discordgo.Member

	// Err is returned by every method when non-nil.
	Err error

	responses    []*discordgo.InteractionResponse
	followUps    []*discordgo.WebhookParams
	messages     []Message
	memberLookup int
}

// InteractionRespond records the response.
func (m *API) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m.Err
}

// FollowupMessageCreate records the follow-up and returns a stub message.
func (m *API) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followUps = append(m.followUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-followup", Content: params.Content}, nil
}

// ChannelMessageSend records the message.
func (m *API) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{ChannelID: channelID, Content: content})
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-message", ChannelID: channelID, Content: content}, nil
}

// GuildMember returns Members[userID] or an error.
func (m *API) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberLookup++
	if m.Err != nil {
		return nil, m.Err
	}
	if mem, ok := m.Members[userID]; ok {
		return mem, nil
	}
	return nil, fmt.Errorf("unknown member %s", userID)
}

// Responses returns the recorded interaction responses.
func (m *API) Responses() []*discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.InteractionResponse(nil), m.responses...)
}

// LastResponse returns the most recent interaction response, or nil.
func (m *API) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return nil
	}
	return m.responses[len(m.responses)-1]
}

// FollowUps returns the content of every follow-up.
func (m *API) FollowUps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.followUps))
	for i, f := range m.followUps {
		out[i] = f.Content
	}
	return out
}

// Messages returns every channel message.
func (m *API) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// MemberLookups returns the number of GuildMember calls.
func (m *API) MemberLookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memberLookup
}
