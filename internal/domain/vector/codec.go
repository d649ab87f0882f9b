package vector

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kailas-cloud/evidex/internal/domain"
)

// ToBytes serializes v as little-endian IEEE-754 float32, the layout shared with the store
// and with API clients.
func ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// FromBytes parses the ToBytes layout.
func FromBytes(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: vector payload length %d is not a multiple of 4", domain.ErrInvalidParameter, len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// EncodeBase64 returns the standard base64 of ToBytes(v).
func EncodeBase64(v []float32) string {
	return base64.StdEncoding.EncodeToString(ToBytes(v))
}

// DecodeBase64 reverses EncodeBase64.
func DecodeBase64(s string) ([]float32, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64 vector: %v", domain.ErrInvalidParameter, err)
	}
	return FromBytes(b)
}

// FormatLiteral renders v as a bracketed comma-separated literal, e.g. "[0.1,0.2]".
func FormatLiteral(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v)*12 + 2)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// ParseLiteral parses the FormatLiteral form. Whitespace around elements is allowed.
func ParseLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("%w: vector literal must be bracketed", domain.ErrInvalidParameter)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}

	parts := strings.Split(body, ",")
	v := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: vector literal element %d: %v", domain.ErrInvalidParameter, i, err)
		}
		v[i] = float32(f)
	}
	return v, nil
}
