// Package commands parses prefix commands and routes them to their
// implementations.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// ErrUsage marks a malformed invocation. Dispatch answers it with the
// command's usage line.
var ErrUsage = errors.New("usage")

type Request struct {
	Message *discordgo.Message
	Name    string
	Args    []string
}

// Parse splits a prefixed message into a command name and its arguments.
// It reports false when content does not start with prefix.
func Parse(prefix, content string) (Request, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Request{}, false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 {
		return Request{}, true
	}
	return Request{Name: strings.ToLower(fields[0]), Args: fields[1:]}, true
}

// Arg returns the i-th argument or "".
func (r Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// Tail joins the arguments from i on.
func (r Request) Tail(i int) string {
	if i >= len(r.Args) {
		return ""
	}
	return strings.Join(r.Args[i:], " ")
}

func (r Request) AuthorID() string {
	if r.Message == nil || r.Message.Author == nil {
		return ""
	}
	return r.Message.Author.ID
}

type Command interface {
	Name() string
	Description() string
	Usage() string
	// Privilege is required to run the command; empty means anyone may.
	Privilege() string
	Execute(ctx context.Context, req Request, reply *Reply) error
}

// Sender is the part of the Discord REST API replies go through.
type Sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Authorizer interface {
	Has(ctx context.Context, userID, privilege string) (bool, error)
}

// Reply answers in the channel a command was issued in.
type Reply struct {
	sender    Sender
	channelID string
	color     int
	footer    string
}

func (r *Reply) Text(content string) error {
	if r.sender == nil {
		return errors.New("reply: no session")
	}
	_, err := r.sender.ChannelMessageSend(r.channelID, content)
	return err
}

func (r *Reply) Embed(title, description string, fields ...*discordgo.MessageEmbedField) error {
	if r.sender == nil {
		return errors.New("reply: no session")
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       r.color,
		Fields:      fields,
	}
	if r.footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: r.footer}
	}
	_, err := r.sender.ChannelMessageSendEmbed(r.channelID, embed)
	return err
}

type HandlerConfig struct {
	Prefix  string
	Color   int
	BotName string
}

type Handler struct {
	cfg    HandlerConfig
	perms  Authorizer
	logger *zap.Logger

	mu       sync.RWMutex
	sender   Sender
	commands map[string]Command
}

func NewHandler(cfg HandlerConfig, perms Authorizer, logger *zap.Logger) *Handler {
	return &Handler{cfg: cfg, perms: perms, logger: logger, commands: make(map[string]Command)}
}

func (h *Handler) SetSender(sender Sender) {
	h.mu.Lock()
	h.sender = sender
	h.mu.Unlock()
}

func (h *Handler) Prefix() string {
	return h.cfg.Prefix
}

// Load registers cmds, replacing any command of the same name.
func (h *Handler) Load(cmds ...Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cmd := range cmds {
		h.commands[strings.ToLower(cmd.Name())] = cmd
	}
}

func (h *Handler) Get(name string) (Command, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cmd, ok := h.commands[strings.ToLower(name)]
	return cmd, ok
}

// Commands returns the registered commands sorted by name.
func (h *Handler) Commands() []Command {
	h.mu.RLock()
	out := make([]Command, 0, len(h.commands))
	for _, cmd := range h.commands {
		out = append(out, cmd)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Dispatch runs the command named by req. Unknown names are ignored without
// a reply or an error. A denied permission is answered in the channel and
// is not an error. Execution errors are answered, logged and returned.
func (h *Handler) Dispatch(ctx context.Context, req Request) error {
	cmd, ok := h.Get(req.Name)
	if !ok {
		return nil
	}
	reply := h.replyTo(req)

	if privilege := cmd.Privilege(); privilege != "" {
		allowed, err := h.perms.Has(ctx, req.AuthorID(), privilege)
		if err != nil {
			h.logger.Error("permission check failed", zap.String("command", cmd.Name()), zap.Error(err))
			_ = reply.Text("Could not check your permissions, try again later.")
			return err
		}
		if !allowed {
			h.logger.Debug("command denied", zap.String("command", cmd.Name()), zap.String("user_id", req.AuthorID()))
			_ = reply.Text(fmt.Sprintf("You are missing the `%s` permission.", privilege))
			return nil
		}
	}

	err := cmd.Execute(ctx, req, reply)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUsage):
		_ = reply.Text(fmt.Sprintf("Usage: `%s%s`", h.cfg.Prefix, cmd.Usage()))
		return nil
	default:
		h.logger.Error("command failed",
			zap.String("command", cmd.Name()),
			zap.Strings("args", req.Args),
			zap.Error(err),
		)
		_ = reply.Text("Error: " + err.Error())
		return err
	}
}

func (h *Handler) replyTo(req Request) *Reply {
	h.mu.RLock()
	sender := h.sender
	h.mu.RUnlock()
	channelID := ""
	if req.Message != nil {
		channelID = req.Message.ChannelID
	}
	return &Reply{sender: sender, channelID: channelID, color: h.cfg.Color, footer: h.cfg.BotName}
}
