package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"toxiguard/internal/actions"
	"toxiguard/internal/audit"
	"toxiguard/internal/commands"
	"toxiguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg == nil || msg.Message == nil {
		return
	}
	selfID := ""
	if session != nil && session.State != nil && session.State.User != nil {
		selfID = session.State.User.ID
	}
	b.handleMessage(b.ctx, selfID, msg.Message)
}

// handleMessage runs one incoming message through the pipeline: allow-list
// and author filter, command dispatch for prefixed content, otherwise
// bypass, classification and, for flagged content, the configured actions.
func (b *Bot) handleMessage(ctx context.Context, selfID string, msg *discordgo.Message) {
	if msg.Author == nil {
		return
	}
	if _, ok := b.allowed[msg.ChannelID]; !ok {
		return
	}
	if msg.Author.Bot || msg.Author.ID == selfID {
		return
	}

	b.increment(ctx, storage.CounterMessagesChecked)

	if req, ok := commands.Parse(b.cfg.Prefix, msg.Content); ok {
		req.Message = msg
		if err := b.dispatcher.Dispatch(ctx, req); err != nil {
			b.logger.Warn("command error", zap.String("command", req.Name), zap.Error(err))
		}
		b.increment(ctx, storage.CounterMessagesCommand)
		b.system.Log(ctx, audit.LevelInfo, audit.EventCommand,
			fmt.Sprintf("%s ran %s with %s", msg.Author.String(), req.Name, strings.Join(req.Args, ",")))
		return
	}

	if b.bypass.Check(ctx, msg) {
		return
	}

	res, err := b.classifier.Classify(ctx, msg.Content)
	if err != nil {
		b.logger.Error("classification failed",
			zap.String("channel_id", msg.ChannelID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		b.system.Log(ctx, audit.LevelCrit, audit.EventError,
			fmt.Sprintf("classification failed for message %s in %s: %v", msg.ID, msg.ChannelID, err))
		return
	}
	if !res.Flagged {
		return
	}

	b.increment(ctx, storage.CounterMessagesFlagged)

	created := msg.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	if err := b.userLogs.AddUserLog(ctx, storage.UserLog{
		UserID:     msg.Author.ID,
		ChannelID:  msg.ChannelID,
		MessageID:  msg.ID,
		Content:    msg.Content,
		Categories: strings.Join(res.FlaggedCategories(b.cfg.Classifier.Labels), ","),
		CreatedAt:  created,
	}); err != nil {
		b.logger.Warn("user log write failed", zap.Error(err))
	}

	if _, err := b.actions.Respond(ctx, actions.Params{Message: msg, Result: res}); err != nil {
		b.logger.Warn("moderation actions incomplete", zap.String("user_id", msg.Author.ID), zap.Error(err))
	}
}

func (b *Bot) increment(ctx context.Context, name string) {
	if err := b.counters.IncrementCount(ctx, name); err != nil {
		b.logger.Warn("counter increment failed", zap.String("counter", name), zap.Error(err))
	}
}
