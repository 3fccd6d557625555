package classifier

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"toxiguard/internal/utils"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv guards the process-wide ONNX Runtime environment.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

type ONNXConfig struct {
	ModelPath   string
	VocabPath   string
	LibraryPath string
	Labels      []string
	MaxSeqLen   int
}

// ONNXLoader runs a BERT-style multi-label classifier exported to ONNX. The
// model takes input_ids and attention_mask (token_type_ids optional) and
// returns one logit per label. The session is created on the first Load and
// shared afterwards.
type ONNXLoader struct {
	cfg ONNXConfig

	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	inputs    []string
	output    string
	tokenizer *wordpieceTokenizer
}

func NewONNXLoader(cfg ONNXConfig) *ONNXLoader {
	if cfg.VocabPath == "" {
		cfg.VocabPath = filepath.Join(filepath.Dir(cfg.ModelPath), "vocab.txt")
	}
	if cfg.LibraryPath == "" {
		cfg.LibraryPath = filepath.Join(filepath.Dir(cfg.ModelPath), "libonnxruntime.so")
	}
	return &ONNXLoader{cfg: cfg}
}

func (l *ONNXLoader) Load(ctx context.Context, threshold float64) (Model, error) {
	if err := l.ensureSession(); err != nil {
		return nil, err
	}
	return &onnxModel{loader: l, threshold: threshold}, nil
}

func (l *ONNXLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == nil {
		return nil
	}
	err := l.session.Destroy()
	l.session = nil
	return err
}

func (l *ONNXLoader) ensureSession() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil {
		return nil
	}

	if err := initORT(l.cfg.LibraryPath); err != nil {
		return fmt.Errorf("onnx: initialize runtime: %w", err)
	}
	tokenizer, err := loadTokenizer(l.cfg.VocabPath, l.cfg.MaxSeqLen)
	if err != nil {
		return err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(l.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("onnx: read model info: %w", err)
	}
	inputNames, err := selectInputs(inputs)
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		return fmt.Errorf("onnx: model has no outputs")
	}
	dims := outputs[0].Dimensions
	if len(dims) != 2 {
		return fmt.Errorf("onnx: expected [batch, labels] output, got %v", dims)
	}
	if dims[1] > 0 && int(dims[1]) != len(l.cfg.Labels) {
		return fmt.Errorf("onnx: model has %d outputs but %d labels are configured", dims[1], len(l.cfg.Labels))
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("onnx: session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(2)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(l.cfg.ModelPath, inputNames, []string{outputs[0].Name}, opts)
	if err != nil {
		return fmt.Errorf("onnx: create session: %w", err)
	}

	l.session = session
	l.inputs = inputNames
	l.output = outputs[0].Name
	l.tokenizer = tokenizer
	return nil
}

func selectInputs(inputs []ort.InputOutputInfo) ([]string, error) {
	present := make(map[string]bool, len(inputs))
	for _, info := range inputs {
		present[info.Name] = true
	}
	for _, name := range []string{"input_ids", "attention_mask"} {
		if !present[name] {
			return nil, fmt.Errorf("onnx: model missing required input %q", name)
		}
	}
	names := []string{"input_ids", "attention_mask"}
	if present["token_type_ids"] {
		names = append(names, "token_type_ids")
	}
	return names, nil
}

type onnxModel struct {
	loader    *ONNXLoader
	threshold float64
}

func (m *onnxModel) Labels() []string {
	return m.loader.cfg.Labels
}

func (m *onnxModel) Classify(ctx context.Context, inputs []string) ([]Prediction, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	texts := make([]string, len(inputs))
	for i, input := range inputs {
		texts[i] = utils.CollapseURLs(input)
	}

	logits, err := m.loader.infer(m.loader.tokenizer.encodeBatch(texts))
	if err != nil {
		return nil, err
	}
	return predictionsFromLogits(logits, m.Labels(), len(inputs), m.threshold), nil
}

// predictionsFromLogits converts a flat [batch*labels] logit tensor into one
// Prediction per label.
func predictionsFromLogits(logits []float32, labels []string, batch int, threshold float64) []Prediction {
	predictions := make([]Prediction, len(labels))
	for j, label := range labels {
		predictions[j] = Prediction{Label: label, Results: make([]Match, batch)}
		for i := 0; i < batch; i++ {
			idx := i*len(labels) + j
			if idx >= len(logits) {
				break
			}
			predictions[j].Results[i] = Decide(sigmoid(logits[idx]), threshold)
		}
	}
	return predictions
}

func (l *ONNXLoader) infer(batch encoded) ([]float32, error) {
	shape := ort.NewShape(batch.batchSize, batch.seqLen)
	data := map[string][]int64{
		"input_ids":      batch.inputIDs,
		"attention_mask": batch.attentionMask,
		"token_type_ids": batch.tokenTypeIDs,
	}

	values := make([]ort.Value, 0, len(l.inputs))
	for _, name := range l.inputs {
		tensor, err := ort.NewTensor(shape, data[name])
		if err != nil {
			return nil, fmt.Errorf("onnx: create %s tensor: %w", name, err)
		}
		defer tensor.Destroy()
		values = append(values, tensor)
	}

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(batch.batchSize, int64(len(l.cfg.Labels))))
	if err != nil {
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}
	defer out.Destroy()

	if err := l.session.Run(values, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	src := out.GetData()
	logits := make([]float32, len(src))
	copy(logits, src)
	return logits, nil
}
