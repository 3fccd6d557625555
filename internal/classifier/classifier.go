// Package classifier wraps a multi-label toxicity model and turns its
// per-category decisions into a single flagged/not-flagged verdict.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrNoThreshold      = errors.New("no threshold found")
	ErrInvalidThreshold = errors.New("threshold must be a number")
	ErrThresholdRange   = errors.New("threshold must be greater than 0 and at most 10")
)

// MaxThreshold is the largest raw threshold; it scales to a working
// threshold of 1.
const MaxThreshold = 10

// ExecutionTime splits the classification duration the way a high resolution
// timer reports it: whole seconds plus the remaining milliseconds.
type ExecutionTime struct {
	Seconds      int64
	Milliseconds int64
}

type Result struct {
	Message       string
	ExecutionTime ExecutionTime
	Duration      time.Duration
	Flagged       bool
	Categories    map[string]bool
}

// FlaggedCategories returns the matching category names in label order.
func (r Result) FlaggedCategories(labels []string) []string {
	var out []string
	for _, label := range labels {
		if r.Categories[label] {
			out = append(out, label)
		}
	}
	return out
}

type Classifier struct {
	mu        sync.RWMutex
	loader    Loader
	threshold float64
	now       func() time.Time
}

// New builds a classifier at threshold/10. A zero threshold is treated as
// missing configuration; anything outside (0, MaxThreshold] is rejected.
func New(loader Loader, threshold float64) (*Classifier, error) {
	if loader == nil {
		return nil, errors.New("classifier: nil model loader")
	}
	if threshold == 0 {
		return nil, ErrNoThreshold
	}
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	c := &Classifier{loader: loader, now: time.Now}
	if err := c.SetThreshold(threshold); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Classifier) Threshold() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threshold
}

// SetThreshold stores n/10 as the working threshold.
func (c *Classifier) SetThreshold(n float64) error {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, n)
	}
	c.mu.Lock()
	c.threshold = n / 10
	c.mu.Unlock()
	return nil
}

// ValidateThreshold checks a raw threshold before it is applied or stored.
func ValidateThreshold(raw float64) error {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, raw)
	}
	if raw <= 0 || raw > MaxThreshold {
		return fmt.Errorf("%w: got %v", ErrThresholdRange, raw)
	}
	return nil
}

// ParseThreshold parses user input for SetThreshold.
func ParseThreshold(raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: got %q", ErrInvalidThreshold, raw)
	}
	return value, nil
}

// Classify loads the model at the current threshold and scores text as a
// single-element batch. Errors are returned unchanged in meaning; there is
// no retry.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	start := c.now()
	model, err := c.loader.Load(ctx, c.Threshold())
	if err != nil {
		return Result{}, fmt.Errorf("load model: %w", err)
	}
	predictions, err := model.Classify(ctx, []string{text})
	if err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}
	return Parse(predictions, model.Labels(), text, c.now().Sub(start)), nil
}

// Parse maps raw predictions onto the fixed label set. Labels absent from
// predictions are false, unknown labels are dropped, and an undecided match
// counts as false.
func Parse(predictions []Prediction, labels []string, text string, elapsed time.Duration) Result {
	result := Result{
		Message:       text,
		ExecutionTime: splitDuration(elapsed),
		Duration:      elapsed,
		Categories:    make(map[string]bool, len(labels)),
	}
	for _, label := range labels {
		result.Categories[label] = false
	}
	for _, prediction := range predictions {
		if _, known := result.Categories[prediction.Label]; !known {
			continue
		}
		if len(prediction.Results) == 0 {
			continue
		}
		matched := prediction.Results[0].Match != nil && *prediction.Results[0].Match
		result.Categories[prediction.Label] = matched
		if matched {
			result.Flagged = true
		}
	}
	return result
}

func splitDuration(d time.Duration) ExecutionTime {
	seconds := int64(d / time.Second)
	remainder := d - time.Duration(seconds)*time.Second
	return ExecutionTime{
		Seconds:      seconds,
		Milliseconds: int64(math.Round(float64(remainder) / float64(time.Millisecond))),
	}
}
