package bot

import (
	"toxiguard/internal/commands"
	"toxiguard/internal/presence"

	"go.uber.org/zap"
)

// loadCommands registers the prefix command set. It runs on every ready
// event; registering again replaces the previous entries.
func (b *Bot) loadCommands() {
	set := []commands.Command{
		commands.Help{Handler: b.handler},
		commands.Ping{},
		commands.Info{
			BotName:    b.cfg.BotName,
			Version:    b.cfg.Version,
			Backend:    b.cfg.Classifier.Backend,
			DevMode:    b.cfg.DevMode,
			Started:    b.started,
			Classifier: b.deps.Classifier,
		},
		commands.Threshold{Classifier: b.deps.Classifier, Store: b.deps.Store, Audit: b.deps.Audit},
		commands.Classify{Classifier: b.deps.Classifier, Labels: b.cfg.Classifier.Labels},
		commands.Perm{Permissions: b.deps.Permissions},
		commands.Bypass{Rules: b.deps.Bypass},
		commands.Action{Rules: b.deps.Actions},
	}
	if b.deps.Analytics != nil {
		set = append(set, commands.Stats{Reporter: b.deps.Analytics})
	}
	if b.deps.Presence != nil {
		set = append(set, commands.Presence{Presences: b.deps.Presence, ParseType: presence.ParseType})
	}
	b.handler.Load(set...)
	b.logger.Debug("commands loaded", zap.Int("count", len(set)))
}
