//go:build onnx

package onnx

import (
	"encoding/json"
	"os"
	"strings"
)

// BERT special token ids.
const (
	clsToken = 101
	sepToken = 102
	unkToken = 100
)

// wordPieceTokenizer is a minimal BERT WordPiece tokenizer driven by the
// vocabulary in a Hugging Face tokenizer.json.
type wordPieceTokenizer struct {
	vocab map[string]int
}

func loadTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &wordPieceTokenizer{vocab: file.Model.Vocab}, nil
}

// Encode returns input ids and attention mask padded to maxLen, framed by
// [CLS] and [SEP].
func (t *wordPieceTokenizer) Encode(text string, maxLen int) (ids, mask []int64) {
	ids = make([]int64, maxLen)
	mask = make([]int64, maxLen)

	tokens := t.tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	ids[0], mask[0] = clsToken, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = sepToken, 1
	return ids, mask
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			tokens = append(tokens, int64(id))
			continue
		}
		for _, piece := range t.wordPieces(word) {
			if id, ok := t.vocab[piece]; ok {
				tokens = append(tokens, int64(id))
			} else {
				tokens = append(tokens, unkToken)
			}
		}
	}
	return tokens
}

// wordPieces splits a word greedily into the longest known prefixes.
func (t *wordPieceTokenizer) wordPieces(word string) []string {
	var pieces []string
	for start := 0; start < len(word); {
		end := len(word)
		for ; end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				pieces = append(pieces, piece)
				break
			}
		}
		if end == start {
			pieces = append(pieces, "[UNK]")
			start++
			continue
		}
		start = end
	}
	return pieces
}
