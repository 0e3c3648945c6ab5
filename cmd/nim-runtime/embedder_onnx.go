//go:build onnx

package main

import (
	"fmt"

	"github.com/becomeliminal/nim-runtime/memory"
	"github.com/becomeliminal/nim-runtime/memory/embedder/onnx"
)

func newONNXEmbedder(cfg *config) (memory.Embedder, func() error, error) {
	e, err := onnx.New(onnx.Config{
		ModelPath:         cfg.ONNXModel,
		TokenizerPath:     cfg.ONNXTokenizer,
		SharedLibraryPath: cfg.ONNXLibrary,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load onnx embedder: %w", err)
	}
	return e, e.Close, nil
}
