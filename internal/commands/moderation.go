package commands

import (
	"context"
	"fmt"
	"strings"

	"toxiguard/internal/audit"
	"toxiguard/internal/classifier"
	"toxiguard/internal/permissions"

	"github.com/bwmarrin/discordgo"
)

type ThresholdSetter interface {
	Threshold() float64
	SetThreshold(n float64) error
}

type ThresholdStore interface {
	SetThreshold(ctx context.Context, raw float64) error
}

type Auditor interface {
	Log(ctx context.Context, level, event, details string)
}

type Threshold struct {
	Classifier ThresholdSetter
	Store      ThresholdStore
	Audit      Auditor
}

func (Threshold) Name() string        { return "threshold" }
func (Threshold) Description() string { return "Show or change the classifier threshold (0-10]" }
func (Threshold) Usage() string       { return "threshold [value]" }
func (Threshold) Privilege() string   { return permissions.ManageThreshold }

func (c Threshold) Execute(ctx context.Context, req Request, reply *Reply) error {
	if len(req.Args) == 0 {
		return reply.Text("Current threshold: " + formatThreshold(c.Classifier.Threshold()))
	}
	value, err := classifier.ParseThreshold(req.Arg(0))
	if err == nil {
		err = classifier.ValidateThreshold(value)
	}
	if err != nil {
		return reply.Text(fmt.Sprintf("`%s` is not a threshold, use a number greater than 0 and at most 10.", req.Arg(0)))
	}

	previous := c.Classifier.Threshold()
	if err := c.Classifier.SetThreshold(value); err != nil {
		return err
	}
	if err := c.Store.SetThreshold(ctx, value); err != nil {
		_ = c.Classifier.SetThreshold(previous * 10)
		return fmt.Errorf("save threshold: %w", err)
	}
	if c.Audit != nil {
		c.Audit.Log(ctx, audit.LevelInfo, audit.EventThreshold, fmt.Sprintf("%s set threshold to %g", req.AuthorID(), value))
	}
	return reply.Text("Threshold set to " + formatThreshold(c.Classifier.Threshold()))
}

type TextClassifier interface {
	Classify(ctx context.Context, text string) (classifier.Result, error)
}

type Classify struct {
	Classifier TextClassifier
	Labels     []string
}

func (Classify) Name() string        { return "classify" }
func (Classify) Description() string { return "Run the classifier on text without taking action" }
func (Classify) Usage() string       { return "classify <text>" }
func (Classify) Privilege() string   { return permissions.ViewStats }

func (c Classify) Execute(ctx context.Context, req Request, reply *Reply) error {
	text := req.Tail(0)
	if text == "" {
		return ErrUsage
	}
	res, err := c.Classifier.Classify(ctx, text)
	if err != nil {
		return err
	}

	lines := make([]string, 0, len(c.Labels))
	for _, label := range c.Labels {
		mark := "no"
		if res.Categories[label] {
			mark = "**yes**"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, mark))
	}
	verdict := "clean"
	if res.Flagged {
		verdict = "flagged"
	}
	return reply.Embed("Classification", fmt.Sprintf("Verdict: **%s**", verdict),
		&discordgo.MessageEmbedField{Name: "Categories", Value: strings.Join(lines, "\n")},
		&discordgo.MessageEmbedField{Name: "Time", Value: fmt.Sprintf("%ds %dms", res.ExecutionTime.Seconds, res.ExecutionTime.Milliseconds), Inline: true},
	)
}
