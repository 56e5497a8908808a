package embeddings

import (
	"context"
	"fmt"

	tokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/bdougie/framesearch/internal/onnxrt"
)

const defaultMaxSeqLen = 256

// ONNXConfig describes a sentence-transformers model exported to ONNX.
type ONNXConfig struct {
	Model         string
	ModelPath     string
	TokenizerPath string
	LibPath       string
	Dimension     int
	MaxSeqLen     int
}

// ONNXEmbedder runs a MiniLM-style encoder locally and mean-pools the last
// hidden state into normalized sentence embeddings.
type ONNXEmbedder struct {
	tokenizer *tokenizer.Tokenizer
	session   *ort.DynamicAdvancedSession
	config    ONNXConfig
}

// NewONNXEmbedder loads the tokenizer and the ONNX session.
func NewONNXEmbedder(config ONNXConfig) (*ONNXEmbedder, error) {
	if config.MaxSeqLen <= 0 {
		config.MaxSeqLen = defaultMaxSeqLen
	}

	tok, err := pretrained.FromFile(config.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	if err := onnxrt.Acquire(config.LibPath); err != nil {
		return nil, err
	}

	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		onnxrt.Release()
		return nil, err
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		config.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		opts,
	)
	if err != nil {
		onnxrt.Release()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &ONNXEmbedder{
		tokenizer: tok,
		session:   session,
		config:    config,
	}, nil
}

func (e *ONNXEmbedder) Model() string  { return e.config.Model }
func (e *ONNXEmbedder) Dimension() int { return e.config.Dimension }

// Embed processes a single batch of texts
func (e *ONNXEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs := make([]tokenizer.EncodeInput, len(texts))
	for i, t := range texts {
		inputs[i] = tokenizer.NewSingleEncodeInput(tokenizer.NewInputSequence(t))
	}

	encodings, err := e.tokenizer.EncodeBatch(inputs, true)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}

	ids := make([][]int, len(encodings))
	masks := make([][]int, len(encodings))
	for i := range encodings {
		ids[i], masks[i] = truncate(encodings[i].GetIds(), encodings[i].GetAttentionMask(), e.config.MaxSeqLen)
	}

	batchSize := len(ids)
	maxLen := 0
	for _, tid := range ids {
		maxLen = max(maxLen, len(tid))
	}

	inputIds := make([]int64, batchSize*maxLen)
	attentionMask := make([]int64, batchSize*maxLen)
	tokenTypeIds := make([]int64, batchSize*maxLen)
	for i := range ids {
		offset := i * maxLen
		for j := range ids[i] {
			inputIds[offset+j] = int64(ids[i][j])
			attentionMask[offset+j] = int64(masks[i][j])
		}
	}

	shape := ort.NewShape(int64(batchSize), int64(maxLen))
	inputIdsTensor, err := ort.NewTensor(shape, inputIds)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer inputIdsTensor.Destroy()

	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer attentionMaskTensor.Destroy()

	tokenTypeIdsTensor, err := ort.NewTensor(shape, tokenTypeIds)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer tokenTypeIdsTensor.Destroy()

	outputs := make([]ort.Value, 1)
	err = e.session.Run(
		[]ort.Value{inputIdsTensor, attentionMaskTensor, tokenTypeIdsTensor},
		outputs,
	)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	outputTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output tensor is not float32 type")
	}

	// Output: [batch_size, sequence_length, hidden_dim]
	outputShape := outputTensor.GetShape()
	hiddenDim := int(outputShape[2])
	if e.config.Dimension > 0 && hiddenDim != e.config.Dimension {
		return nil, fmt.Errorf("model produced %d dimensions, configured for %d", hiddenDim, e.config.Dimension)
	}

	return meanPool(outputTensor.GetData(), attentionMask, batchSize, int(outputShape[1]), hiddenDim), nil
}

// Close releases resources
func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
		onnxrt.Release()
	}
	return nil
}

// truncate keeps the first maxLen-1 tokens and the closing special token.
func truncate(ids, mask []int, maxLen int) ([]int, []int) {
	if len(ids) <= maxLen {
		return ids, mask
	}
	tid := append(append([]int{}, ids[:maxLen-1]...), ids[len(ids)-1])
	am := append(append([]int{}, mask[:maxLen-1]...), mask[len(mask)-1])
	return tid, am
}

// meanPool averages token vectors under the attention mask and normalizes the
// result. The returned slices never alias hidden.
func meanPool(hidden []float32, mask []int64, batch, seqLen, dim int) [][]float32 {
	embeddings := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		vec := make([]float32, dim)
		var count float32
		for t := 0; t < seqLen; t++ {
			if mask[b*seqLen+t] == 0 {
				continue
			}
			count++
			offset := (b*seqLen + t) * dim
			for d := 0; d < dim; d++ {
				vec[d] += hidden[offset+d]
			}
		}
		if count > 0 {
			for d := range vec {
				vec[d] /= count
			}
		}
		embeddings[b] = Normalize(vec)
	}
	return embeddings
}
