package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kailas-cloud/evidex/internal/domain/vector"
)

const (
	formatBase64  = "base64"
	formatLiteral = "literal"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func encodeVector(v []float32, format string) (string, error) {
	switch format {
	case formatBase64:
		return vector.EncodeBase64(v), nil
	case formatLiteral:
		return vector.FormatLiteral(v), nil
	default:
		return "", fmt.Errorf("format must be %q or %q, got %q", formatBase64, formatLiteral, format)
	}
}

// decodeVector accepts the output of `vectorize` in either format.
// An argument starting with @ names a file holding the vector.
func decodeVector(arg string) ([]float32, error) {
	s := arg
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read vector: %w", err)
		}
		s = string(data)
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		return vector.ParseLiteral(s)
	}
	return vector.DecodeBase64(s)
}

func readImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}
