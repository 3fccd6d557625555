package classifier

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// wordpieceTokenizer implements uncased BERT tokenization against a vocab.txt
// file whose line numbers are token ids.
type wordpieceTokenizer struct {
	ids    map[string]int64
	maxLen int
	unkID  int64
	clsID  int64
	sepID  int64
}

// encoded is a batch packed into flat [batch*seqLen] slices.
type encoded struct {
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64
	batchSize     int64
	seqLen        int64
}

func loadTokenizer(path string, maxLen int) (*wordpieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	ids := make(map[string]int64, 32000)
	scanner := bufio.NewScanner(f)
	var next int64
	for scanner.Scan() {
		ids[strings.TrimRight(scanner.Text(), "\r")] = next
		next++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: read %s: %w", path, err)
	}
	if next == 0 {
		return nil, fmt.Errorf("vocab: %s is empty", path)
	}
	if maxLen < 3 {
		maxLen = 128
	}

	t := &wordpieceTokenizer{ids: ids, maxLen: maxLen}
	for name, dest := range map[string]*int64{"[UNK]": &t.unkID, "[CLS]": &t.clsID, "[SEP]": &t.sepID} {
		id, ok := ids[name]
		if !ok {
			return nil, fmt.Errorf("vocab: missing special token %s", name)
		}
		*dest = id
	}
	return t, nil
}

// encode returns [CLS] tokens... [SEP] truncated to maxLen, without padding.
func (t *wordpieceTokenizer) encode(text string) []int64 {
	var tokens []string
	for _, word := range basicTokenize(text) {
		tokens = append(tokens, t.wordpiece(word)...)
	}
	if limit := t.maxLen - 2; len(tokens) > limit {
		tokens = tokens[:limit]
	}

	ids := make([]int64, 0, len(tokens)+2)
	ids = append(ids, t.clsID)
	for _, tok := range tokens {
		if id, ok := t.ids[tok]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, t.unkID)
		}
	}
	return append(ids, t.sepID)
}

// encodeBatch pads every sequence with zeros to the longest one in the batch.
func (t *wordpieceTokenizer) encodeBatch(texts []string) encoded {
	seqs := make([][]int64, len(texts))
	longest := 0
	for i, text := range texts {
		seqs[i] = t.encode(text)
		longest = max(longest, len(seqs[i]))
	}

	out := encoded{batchSize: int64(len(texts)), seqLen: int64(longest)}
	total := len(texts) * longest
	out.inputIDs = make([]int64, total)
	out.attentionMask = make([]int64, total)
	out.tokenTypeIDs = make([]int64, total)
	for i, seq := range seqs {
		offset := i * longest
		copy(out.inputIDs[offset:], seq)
		for j := range seq {
			out.attentionMask[offset+j] = 1
		}
	}
	return out
}

func (t *wordpieceTokenizer) wordpiece(word string) []string {
	runes := []rune(word)
	if len(runes) > 100 {
		return []string{"[UNK]"}
	}
	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		piece := ""
		for ; end > start; end-- {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = "##" + candidate
			}
			if _, ok := t.ids[candidate]; ok {
				piece = candidate
				break
			}
		}
		if piece == "" {
			return []string{"[UNK]"}
		}
		pieces = append(pieces, piece)
		start = end
	}
	return pieces
}

// basicTokenize lower-cases, strips accents, drops control runes and splits
// on whitespace and punctuation (punctuation is kept as its own token).
func basicTokenize(text string) []string {
	text = stripAccents(strings.ToLower(text))
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || (unicode.IsControl(r) && !unicode.IsSpace(r)):
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func stripAccents(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
