package discord

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one slash command interaction.
type HandlerFunc func(api API, i *discordgo.InteractionCreate)

type route struct {
	def     *discordgo.ApplicationCommand
	handler HandlerFunc
}

// OperatorRole is the guild role allowed to run restricted commands. The
// empty role admits everyone.
type OperatorRole string

// Holds reports whether the author of i has the role. Interactions from
// outside a guild carry no roles.
func (r OperatorRole) Holds(i *discordgo.InteractionCreate) bool {
	if r == "" {
		return true
	}
	return i.Member != nil && slices.Contains(i.Member.Roles, string(r))
}

// Restrict returns h guarded by the role; everyone else gets an ephemeral
// refusal.
func (r OperatorRole) Restrict(h HandlerFunc) HandlerFunc {
	return func(api API, i *discordgo.InteractionCreate) {
		if !r.Holds(i) {
			slog.Info("discord: operator command refused", "command", i.ApplicationCommandData().Name, "user", UserID(i))
			RespondEphemeral(api, i, "You need the operator role for that.")
			return
		}
		h(api, i)
	}
}

// CommandRouter maps slash command names to handlers. Every bot identity has
// its own router because Discord registers commands per application.
type CommandRouter struct {
	mu     sync.RWMutex
	routes map[string]route
}

// NewCommandRouter returns an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{routes: make(map[string]route)}
}

// Register adds def and routes interactions named def.Name to handler. A
// second registration under the same name replaces the first.
func (r *CommandRouter) Register(def *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[def.Name] = route{def: def, handler: handler}
}

// ApplicationCommands returns the registered definitions sorted by name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*discordgo.ApplicationCommand, 0, len(r.routes))
	for _, rt := range r.routes {
		defs = append(defs, rt.def)
	}
	slices.SortFunc(defs, func(a, b *discordgo.ApplicationCommand) int { return cmp.Compare(a.Name, b.Name) })
	return defs
}

// Handle runs the handler for a slash command interaction. Other interaction
// types are ignored, unknown commands get an ephemeral notice and a panicking
// handler is logged and answered with an error message.
func (r *CommandRouter) Handle(api API, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	name := i.ApplicationCommandData().Name

	r.mu.RLock()
	rt, ok := r.routes[name]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("discord: unknown command", "command", name)
		RespondEphemeral(api, i, "Unknown command.")
		return
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("discord: command panicked", "command", name, "user", UserID(i), "panic", p)
			RespondEphemeral(api, i, "Something went wrong.")
		}
	}()
	slog.Debug("discord: command", "command", name, "user", UserID(i))
	rt.handler(api, i)
}
