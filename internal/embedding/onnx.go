//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/kaiwa/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// The runtime environment is process wide and may only be initialized once.
var (
	ortInit    sync.Once
	ortInitErr error
)

// ONNXEmbedder runs a local sentence embedding model through ONNX Runtime.
// It requires CGO and the onnxruntime shared library. Calls are serialized
// because the session reuses one set of tensors.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	tensors    *onnxTensors
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
}

// onnxTensors are bound to the session once; each run rewrites their data.
type onnxTensors struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newONNXTensors(dimensions, maxTokens int) (*onnxTensors, error) {
	t := &onnxTensors{}
	inputShape := ort.NewShape(1, int64(maxTokens))
	var err error
	if t.inputIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	if t.attentionMask, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		t.destroy()
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	if t.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		t.destroy()
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	if t.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions))); err != nil {
		t.destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	return t, nil
}

func (t *onnxTensors) destroy() {
	if t.inputIDs != nil {
		_ = t.inputIDs.Destroy()
	}
	if t.attentionMask != nil {
		_ = t.attentionMask.Destroy()
	}
	if t.tokenTypeIDs != nil {
		_ = t.tokenTypeIDs.Destroy()
	}
	if t.output != nil {
		_ = t.output.Destroy()
	}
}

// NewONNXEmbedder loads the model at modelPath. The model must take
// input_ids, attention_mask and token_type_ids and return a pooled
// [1, dimensions] tensor named "output".
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, errors.New("onnx embedder: model path is required")
	}
	ortInit.Do(func() { ortInitErr = ort.InitializeEnvironment() })
	if ortInitErr != nil {
		return nil, fmt.Errorf("initialize ONNX runtime: %w", ortInitErr)
	}
	tensors, err := newONNXTensors(dimensions, maxTokens)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{tensors.inputIDs, tensors.attentionMask, tensors.tokenTypeIDs},
		[]ort.ArbitraryTensor{tensors.output},
		nil,
	)
	if err != nil {
		tensors.destroy()
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}
	return &ONNXEmbedder{
		session:    session,
		tensors:    tensors,
		tokenizer:  &SimpleTokenizer{},
		dimensions: dimensions,
		maxTokens:  maxTokens,
	}, nil
}

// Embed runs the model on text and returns the L2-normalized output.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("onnx embedder is closed")
	}

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.tensors.inputIDs.GetData(), ids)
	copy(e.tensors.attentionMask.GetData(), mask)
	copy(e.tensors.tokenTypeIDs.GetData(), types)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	emb := make([]float32, e.dimensions)
	copy(emb, e.tensors.output.GetData())
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text, stopping at the first failure.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = emb
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.tensors.destroy()
	return err
}
