package classifier

import (
	"context"
	"strings"
	"unicode"
)

var defaultKeywords = map[string][]string{
	"insult":   {"idiot", "moron", "stupid", "loser", "dumbass", "imbecile"},
	"threat":   {"kill you", "hurt you", "beat you up", "find where you live"},
	"obscene":  {"fuck", "shit", "bullshit", "asshole"},
	"toxicity": {"idiot", "moron", "stupid", "loser", "dumbass", "shut up", "fuck", "asshole", "kill you"},
}

// KeywordLoader serves a lexicon model. It needs no model files and is the
// fallback backend when no ONNX model is configured.
type KeywordLoader struct {
	labels   []string
	keywords map[string][]string
}

// NewKeywordLoader uses keywords per label, or the built-in lexicon when
// keywords is empty.
func NewKeywordLoader(labels []string, keywords map[string][]string) *KeywordLoader {
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	normalized := make(map[string][]string, len(keywords))
	for label, words := range keywords {
		for _, word := range words {
			if word = normalizeText(word); word != "" {
				normalized[label] = append(normalized[label], word)
			}
		}
	}
	return &KeywordLoader{labels: append([]string(nil), labels...), keywords: normalized}
}

func (l *KeywordLoader) Load(ctx context.Context, threshold float64) (Model, error) {
	return &keywordModel{loader: l, threshold: threshold}, nil
}

type keywordModel struct {
	loader    *KeywordLoader
	threshold float64
}

func (m *keywordModel) Labels() []string {
	return m.loader.labels
}

func (m *keywordModel) Classify(ctx context.Context, inputs []string) ([]Prediction, error) {
	normalized := make([]string, len(inputs))
	for i, input := range inputs {
		normalized[i] = " " + normalizeText(input) + " "
	}

	predictions := make([]Prediction, 0, len(m.loader.labels))
	for _, label := range m.loader.labels {
		prediction := Prediction{Label: label, Results: make([]Match, len(inputs))}
		for i, content := range normalized {
			var p float32
			if containsKeyword(content, m.loader.keywords[label]) {
				p = 1
			}
			prediction.Results[i] = Decide(p, m.threshold)
		}
		predictions = append(predictions, prediction)
	}
	return predictions, nil
}

func containsKeyword(content string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(content, " "+keyword+" ") {
			return true
		}
	}
	return false
}

// normalizeText lower-cases, strips accents and reduces every run of
// non-alphanumeric runes to one space.
func normalizeText(input string) string {
	input = stripAccents(strings.ToLower(input))
	var b strings.Builder
	b.Grow(len(input))
	space := false
	for _, r := range input {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
