package classifier

import (
	"context"
	"math"
)

// Model scores a batch of inputs. It returns one Prediction per label, each
// holding one Match per input.
type Model interface {
	Labels() []string
	Classify(ctx context.Context, inputs []string) ([]Prediction, error)
}

// Loader returns a model configured at the given working threshold.
type Loader interface {
	Load(ctx context.Context, threshold float64) (Model, error)
}

type LoaderFunc func(ctx context.Context, threshold float64) (Model, error)

func (f LoaderFunc) Load(ctx context.Context, threshold float64) (Model, error) {
	return f(ctx, threshold)
}

type Prediction struct {
	Label   string
	Results []Match
}

// Match holds [not-toxic, toxic] probabilities. Match is nil when neither
// side clears the threshold.
type Match struct {
	Probabilities [2]float32
	Match         *bool
}

// Decide builds a Match for a toxic-class probability p.
func Decide(p float32, threshold float64) Match {
	probs := [2]float32{1 - p, p}
	m := Match{Probabilities: probs}
	if float64(max(probs[0], probs[1])) > threshold {
		matched := probs[0] < probs[1]
		m.Match = &matched
	}
	return m
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}
