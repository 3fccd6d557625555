package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"toxiguard/internal/permissions"
	"toxiguard/internal/storage"
	"toxiguard/internal/utils"

	"github.com/bwmarrin/discordgo"
)

type PermissionStore interface {
	Grant(ctx context.Context, userID, privilege, grantedBy string) error
	Revoke(ctx context.Context, userID, privilege string) (bool, error)
	List(ctx context.Context, userID string) ([]storage.Permission, error)
}

type Perm struct {
	Permissions PermissionStore
}

func (Perm) Name() string        { return "perm" }
func (Perm) Description() string { return "Grant, revoke or list user privileges" }
func (Perm) Usage() string {
	return "perm add|remove <@user> <privilege> | perm list [@user]"
}
func (Perm) Privilege() string { return permissions.ManagePermissions }

func (c Perm) Execute(ctx context.Context, req Request, reply *Reply) error {
	switch strings.ToLower(req.Arg(0)) {
	case "add":
		if len(req.Args) < 3 {
			return ErrUsage
		}
		user := utils.MentionID(req.Arg(1))
		if err := c.Permissions.Grant(ctx, user, req.Arg(2), req.AuthorID()); err != nil {
			return err
		}
		return reply.Text(fmt.Sprintf("Granted `%s` to <@%s>.", strings.ToLower(req.Arg(2)), user))
	case "remove":
		if len(req.Args) < 3 {
			return ErrUsage
		}
		user := utils.MentionID(req.Arg(1))
		removed, err := c.Permissions.Revoke(ctx, user, req.Arg(2))
		if err != nil {
			return err
		}
		if !removed {
			return reply.Text(fmt.Sprintf("<@%s> does not hold `%s`.", user, strings.ToLower(req.Arg(2))))
		}
		return reply.Text(fmt.Sprintf("Revoked `%s` from <@%s>.", strings.ToLower(req.Arg(2)), user))
	case "list":
		perms, err := c.Permissions.List(ctx, utils.MentionID(req.Arg(1)))
		if err != nil {
			return err
		}
		if len(perms) == 0 {
			return reply.Text("No privileges granted. Available: " + strings.Join(permissions.All(), ", "))
		}
		byUser := make(map[string][]string)
		for _, perm := range perms {
			byUser[perm.UserID] = append(byUser[perm.UserID], perm.Privilege)
		}
		var b strings.Builder
		for _, user := range sortedKeys(byUser) {
			fmt.Fprintf(&b, "<@%s>: %s\n", user, strings.Join(byUser[user], ", "))
		}
		return reply.Embed("Privileges", b.String())
	default:
		return ErrUsage
	}
}

type BypassRules interface {
	Add(ctx context.Context, kind, value, createdBy string) error
	Remove(ctx context.Context, kind, value string) (bool, error)
	List(ctx context.Context) ([]storage.BypassRule, error)
}

type Bypass struct {
	Rules BypassRules
}

func (Bypass) Name() string        { return "bypass" }
func (Bypass) Description() string { return "Exempt users, channels, roles, patterns or domains from moderation" }
func (Bypass) Usage() string {
	return "bypass add|remove <user|channel|role|pattern|domain> <value> | bypass list"
}
func (Bypass) Privilege() string { return permissions.ManageBypass }

func (c Bypass) Execute(ctx context.Context, req Request, reply *Reply) error {
	switch strings.ToLower(req.Arg(0)) {
	case "add":
		if len(req.Args) < 3 {
			return ErrUsage
		}
		if err := c.Rules.Add(ctx, req.Arg(1), req.Tail(2), req.AuthorID()); err != nil {
			return err
		}
		return reply.Text(fmt.Sprintf("Added %s bypass `%s`.", strings.ToLower(req.Arg(1)), req.Tail(2)))
	case "remove":
		if len(req.Args) < 3 {
			return ErrUsage
		}
		removed, err := c.Rules.Remove(ctx, req.Arg(1), req.Tail(2))
		if err != nil {
			return err
		}
		if !removed {
			return reply.Text("No such bypass rule.")
		}
		return reply.Text(fmt.Sprintf("Removed %s bypass `%s`.", strings.ToLower(req.Arg(1)), req.Tail(2)))
	case "list":
		rules, err := c.Rules.List(ctx)
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			return reply.Text("No bypass rules.")
		}
		var b strings.Builder
		for _, rule := range rules {
			fmt.Fprintf(&b, "`%s` %s\n", rule.Kind, formatRuleValue(rule))
		}
		return reply.Embed("Bypass rules", b.String())
	default:
		return ErrUsage
	}
}

func formatRuleValue(rule storage.BypassRule) string {
	switch rule.Kind {
	case "user":
		return "<@" + rule.Value + ">"
	case "channel":
		return "<#" + rule.Value + ">"
	case "role":
		return "<@&" + rule.Value + ">"
	default:
		return "`" + rule.Value + "`"
	}
}

type Presences interface {
	Add(ctx context.Context, kind, text string) error
	Remove(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context) ([]storage.PresenceEntry, error)
	Set(ctx context.Context, activity *discordgo.Activity) error
	SetRandom(ctx context.Context) error
}

// ActivityParser resolves a presence type name.
type ActivityParser func(name string) (discordgo.ActivityType, error)

type Presence struct {
	Presences Presences
	ParseType ActivityParser
}

func (Presence) Name() string        { return "presence" }
func (Presence) Description() string { return "Manage the rotating presence list" }
func (Presence) Usage() string {
	return "presence add|set <playing|listening|watching|competing> <text> | presence remove <id> | presence list | presence random"
}
func (Presence) Privilege() string { return permissions.ManagePresence }

func (c Presence) Execute(ctx context.Context, req Request, reply *Reply) error {
	switch strings.ToLower(req.Arg(0)) {
	case "add":
		if len(req.Args) < 3 {
			return ErrUsage
		}
		if err := c.Presences.Add(ctx, req.Arg(1), req.Tail(2)); err != nil {
			return err
		}
		return reply.Text(fmt.Sprintf("Added presence: %s %s", strings.ToLower(req.Arg(1)), req.Tail(2)))
	case "remove":
		id, err := strconv.ParseInt(req.Arg(1), 10, 64)
		if err != nil {
			return ErrUsage
		}
		removed, err := c.Presences.Remove(ctx, id)
		if err != nil {
			return err
		}
		if !removed {
			return reply.Text(fmt.Sprintf("No presence with id %d.", id))
		}
		return reply.Text(fmt.Sprintf("Removed presence %d.", id))
	case "list":
		entries, err := c.Presences.List(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return reply.Text("No presences stored, the default is used.")
		}
		var b strings.Builder
		for _, entry := range entries {
			fmt.Fprintf(&b, "`%d` %s %s\n", entry.ID, entry.Type, entry.Text)
		}
		return reply.Embed("Presences", b.String())
	case "set":
		if len(req.Args) < 3 {
			return ErrUsage
		}
		kind, err := c.ParseType(req.Arg(1))
		if err != nil {
			return err
		}
		if err := c.Presences.Set(ctx, &discordgo.Activity{Name: req.Tail(2), Type: kind}); err != nil {
			return err
		}
		return reply.Text("Presence updated.")
	case "random":
		if err := c.Presences.SetRandom(ctx); err != nil {
			return err
		}
		return reply.Text("Presence updated.")
	default:
		return ErrUsage
	}
}

type ActionRules interface {
	SetRule(ctx context.Context, category string, names []string) error
	ResetRule(ctx context.Context, category string) (bool, error)
	ListRules(ctx context.Context) ([]storage.ActionRule, error)
	Defaults() []string
}

type Action struct {
	Rules ActionRules
}

func (Action) Name() string        { return "action" }
func (Action) Description() string { return "Choose what happens to messages flagged for a category" }
func (Action) Usage() string {
	return "action set <category> <action[,action...]|none> | action reset <category> | action list"
}
func (Action) Privilege() string { return permissions.ManageActions }

func (c Action) Execute(ctx context.Context, req Request, reply *Reply) error {
	switch strings.ToLower(req.Arg(0)) {
	case "set":
		if len(req.Args) < 3 {
			return ErrUsage
		}
		names := strings.FieldsFunc(req.Tail(2), func(r rune) bool { return r == ',' || r == ' ' })
		if err := c.Rules.SetRule(ctx, req.Arg(1), names); err != nil {
			return err
		}
		return reply.Text(fmt.Sprintf("Actions for `%s` updated.", strings.ToLower(req.Arg(1))))
	case "reset":
		if len(req.Args) < 2 {
			return ErrUsage
		}
		removed, err := c.Rules.ResetRule(ctx, req.Arg(1))
		if err != nil {
			return err
		}
		if !removed {
			return reply.Text(fmt.Sprintf("`%s` already uses the default actions.", strings.ToLower(req.Arg(1))))
		}
		return reply.Text(fmt.Sprintf("`%s` reset to the default actions.", strings.ToLower(req.Arg(1))))
	case "list":
		rules, err := c.Rules.ListRules(ctx)
		if err != nil {
			return err
		}
		var b strings.Builder
		fmt.Fprintf(&b, "default: %s\n", joinOrNone(c.Rules.Defaults()))
		for _, rule := range rules {
			fmt.Fprintf(&b, "%s: %s\n", rule.Category, joinOrNone(rule.Actions))
		}
		return reply.Embed("Actions", b.String())
	default:
		return ErrUsage
	}
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
