package commands

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"toxiguard/internal/analytics"
	"toxiguard/internal/permissions"

	"github.com/bwmarrin/discordgo"
)

type Help struct {
	Handler *Handler
}

func (Help) Name() string        { return "help" }
func (Help) Description() string { return "List commands or show how to use one" }
func (Help) Usage() string       { return "help [command]" }
func (Help) Privilege() string   { return "" }

func (c Help) Execute(ctx context.Context, req Request, reply *Reply) error {
	prefix := c.Handler.Prefix()
	if name := req.Arg(0); name != "" {
		cmd, ok := c.Handler.Get(strings.TrimPrefix(name, prefix))
		if !ok {
			return reply.Text(fmt.Sprintf("No command named `%s`.", name))
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Usage", Value: "`" + prefix + cmd.Usage() + "`"}}
		if p := cmd.Privilege(); p != "" {
			fields = append(fields, &discordgo.MessageEmbedField{Name: "Requires", Value: "`" + p + "`"})
		}
		return reply.Embed(prefix+cmd.Name(), cmd.Description(), fields...)
	}

	var b strings.Builder
	for _, cmd := range c.Handler.Commands() {
		fmt.Fprintf(&b, "`%s%s` %s\n", prefix, cmd.Name(), cmd.Description())
	}
	return reply.Embed("Commands", b.String())
}

type Ping struct {
	Now func() time.Time
}

func (Ping) Name() string        { return "ping" }
func (Ping) Description() string { return "Check that the bot is responding" }
func (Ping) Usage() string       { return "ping" }
func (Ping) Privilege() string   { return "" }

func (c Ping) Execute(ctx context.Context, req Request, reply *Reply) error {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if req.Message == nil || req.Message.Timestamp.IsZero() {
		return reply.Text("Pong!")
	}
	latency := now().Sub(req.Message.Timestamp)
	return reply.Text(fmt.Sprintf("Pong! %dms", latency.Milliseconds()))
}

// ThresholdReader exposes the working classifier threshold.
type ThresholdReader interface {
	Threshold() float64
}

type Info struct {
	BotName    string
	Version    string
	Backend    string
	DevMode    bool
	Started    time.Time
	Classifier ThresholdReader
}

func (Info) Name() string        { return "info" }
func (Info) Description() string { return "Show version, uptime and classifier settings" }
func (Info) Usage() string       { return "info" }
func (Info) Privilege() string   { return "" }

func (c Info) Execute(ctx context.Context, req Request, reply *Reply) error {
	mode := "live"
	if c.DevMode {
		mode = "dev (enforcement simulated)"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Version", Value: c.Version, Inline: true},
		{Name: "Uptime", Value: time.Since(c.Started).Truncate(time.Second).String(), Inline: true},
		{Name: "Mode", Value: mode, Inline: true},
		{Name: "Model", Value: c.Backend, Inline: true},
		{Name: "Threshold", Value: formatThreshold(c.Classifier.Threshold()), Inline: true},
	}
	return reply.Embed(c.BotName, "Toxicity moderation for your channels.", fields...)
}

type Reporter interface {
	Report(ctx context.Context, since time.Time) (analytics.Report, error)
}

type Stats struct {
	Reporter Reporter
	Now      func() time.Time
}

func (Stats) Name() string        { return "stats" }
func (Stats) Description() string { return "Show message and moderation counters" }
func (Stats) Usage() string       { return "stats [hours]" }
func (Stats) Privilege() string   { return permissions.ViewStats }

func (c Stats) Execute(ctx context.Context, req Request, reply *Reply) error {
	hours := 24
	if raw := req.Arg(0); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return ErrUsage
		}
		hours = n
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	report, err := c.Reporter.Report(ctx, now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return err
	}

	var actions []string
	for _, name := range sortedKeys(report.Actions) {
		actions = append(actions, fmt.Sprintf("%s: %d", name, report.Actions[name]))
	}
	if len(actions) == 0 {
		actions = []string{"none"}
	}
	top := report.TopUsers(3)
	for i, user := range top {
		top[i] = fmt.Sprintf("<@%s> (%d)", user, report.ByUser[user])
	}
	if len(top) == 0 {
		top = []string{"none"}
	}
	var events []string
	for _, level := range sortedKeys(report.LogLevel) {
		events = append(events, fmt.Sprintf("%s: %d", level, report.LogLevel[level]))
	}
	if len(events) == 0 {
		events = []string{"none"}
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Checked", Value: fmt.Sprint(report.Checked), Inline: true},
		{Name: "Flagged", Value: fmt.Sprintf("%d (%.1f%%)", report.Flagged, report.FlagRate()*100), Inline: true},
		{Name: "Commands", Value: fmt.Sprint(report.Commands), Inline: true},
		{Name: "Actions", Value: strings.Join(actions, "\n")},
		{Name: fmt.Sprintf("Last %dh", hours), Value: fmt.Sprintf("%d actions, %d failed", report.Recent, report.ByStatus["failed"])},
		{Name: "Most actioned", Value: strings.Join(top, ", ")},
		{Name: "System events", Value: strings.Join(events, ", ")},
	}
	return reply.Embed("Statistics", "", fields...)
}

func formatThreshold(working float64) string {
	return fmt.Sprintf("%g (%.2f)", math.Round(working*1000)/100, working)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
