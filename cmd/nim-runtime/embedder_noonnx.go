//go:build !onnx

package main

import (
	"errors"

	"github.com/becomeliminal/nim-runtime/memory"
)

func newONNXEmbedder(*config) (memory.Embedder, func() error, error) {
	return nil, nil, errors.New("onnx embedder not available: rebuild with -tags onnx")
}
