package analyzer

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"sync"

	tokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"

	"github.com/bdougie/framesearch/internal/embeddings"
	"github.com/bdougie/framesearch/internal/onnxrt"
)

const (
	clipImageSize = 224
	clipMaxTokens = 77
)

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// CLIPConfig points at the two towers of a CLIP model exported to ONNX.
type CLIPConfig struct {
	ImageModelPath string
	TextModelPath  string
	TokenizerPath  string
	LibPath        string
}

// CLIPEncoder runs CLIP's vision and text towers through ONNX Runtime.
type CLIPEncoder struct {
	tokenizer *tokenizer.Tokenizer
	vision    *ort.DynamicAdvancedSession
	text      *ort.DynamicAdvancedSession
	closeOnce sync.Once
}

// NewCLIPEncoder loads both sessions and the tokenizer.
func NewCLIPEncoder(cfg CLIPConfig) (*CLIPEncoder, error) {
	tok, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load CLIP tokenizer: %w", err)
	}

	if err := onnxrt.Acquire(cfg.LibPath); err != nil {
		return nil, err
	}

	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		onnxrt.Release()
		return nil, err
	}
	defer opts.Destroy()

	vision, err := ort.NewDynamicAdvancedSession(cfg.ImageModelPath,
		[]string{"pixel_values"}, []string{"image_embeds"}, opts)
	if err != nil {
		onnxrt.Release()
		return nil, fmt.Errorf("failed to create vision session: %w", err)
	}

	text, err := ort.NewDynamicAdvancedSession(cfg.TextModelPath,
		[]string{"input_ids", "attention_mask"}, []string{"text_embeds"}, opts)
	if err != nil {
		vision.Destroy()
		onnxrt.Release()
		return nil, fmt.Errorf("failed to create text session: %w", err)
	}

	return &CLIPEncoder{tokenizer: tok, vision: vision, text: text}, nil
}

// EncodeImage returns the normalized image embedding of the file at path.
func (e *CLIPEncoder) EncodeImage(ctx context.Context, path string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to decode image '%s': %w", path, err)
	}

	pixels := preprocess(img, clipImageSize)
	input, err := ort.NewTensor(ort.NewShape(1, 3, clipImageSize, clipImageSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("failed to create pixel tensor: %w", err)
	}
	defer input.Destroy()

	outputs := make([]ort.Value, 1)
	if err := e.vision.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("vision inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	rows, err := rowsOf(outputs[0], 1)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// EncodeTexts returns one normalized text embedding per input.
func (e *CLIPEncoder) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
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

	seqLen := 0
	for i := range encodings {
		seqLen = max(seqLen, min(len(encodings[i].GetIds()), clipMaxTokens))
	}

	ids := make([]int64, len(texts)*seqLen)
	mask := make([]int64, len(texts)*seqLen)
	for i := range encodings {
		tid := encodings[i].GetIds()
		if len(tid) > clipMaxTokens {
			// keep the end-of-text token, pooling reads it
			tid = append(append([]int{}, tid[:clipMaxTokens-1]...), tid[len(tid)-1])
		}
		for j, id := range tid {
			ids[i*seqLen+j] = int64(id)
			mask[i*seqLen+j] = 1
		}
	}

	shape := ort.NewShape(int64(len(texts)), int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := e.text.Run([]ort.Value{idsTensor, maskTensor}, outputs); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	return rowsOf(outputs[0], len(texts))
}

func (e *CLIPEncoder) Close() error {
	e.closeOnce.Do(func() {
		e.vision.Destroy()
		e.text.Destroy()
		onnxrt.Release()
	})
	return nil
}

// rowsOf copies a [n, dim] float32 output into n normalized vectors.
func rowsOf(v ort.Value, n int) ([][]float32, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output tensor is not float32 type")
	}
	shape := t.GetShape()
	if len(shape) != 2 || int(shape[0]) != n {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}

	dim := int(shape[1])
	data := t.GetData()
	rows := make([][]float32, n)
	for i := range rows {
		row := make([]float32, dim)
		copy(row, data[i*dim:(i+1)*dim])
		rows[i] = embeddings.Normalize(row)
	}
	return rows, nil
}

// preprocess resizes the shortest side to size, center-crops a size x size
// square and returns CHW pixels normalized with the CLIP mean and std.
func preprocess(img image.Image, size int) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := float64(size) / float64(min(w, h))
	nw := max(size, int(math.Round(float64(w)*scale)))
	nh := max(size, int(math.Round(float64(h)*scale)))

	resized := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, b, draw.Src, nil)

	x0, y0 := (nw-size)/2, (nh-size)/2
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := resized.PixOffset(x0+x, y0+y)
			for c := 0; c < 3; c++ {
				v := float32(resized.Pix[off+c]) / 255
				out[c*plane+y*size+x] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}
