package semcache

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/kalambet/parentproof/internal/answer"
)

// EntryID derives the cache key from the exact question text.
func EntryID(question string) string {
	return base64.URLEncoding.EncodeToString([]byte(question))
}

// Flatten encodes a into index metadata. Claims are newline-joined with
// backslashes and newlines escaped, so Unflatten is its exact inverse.
func Flatten(a answer.Answer) (Metadata, error) {
	citations := a.Citations
	if citations == nil {
		citations = []answer.Citation{}
	}
	cj, err := json.Marshal(citations)
	if err != nil {
		return Metadata{}, fmt.Errorf("encoding citations: %w", err)
	}
	return Metadata{
		Pros:      joinClaims(a.Pros),
		Cons:      joinClaims(a.Cons),
		Citations: string(cj),
	}, nil
}

// Unflatten decodes metadata written by Flatten.
func Unflatten(m Metadata) (answer.Answer, error) {
	pros, err := splitClaims(m.Pros)
	if err != nil {
		return answer.Answer{}, fmt.Errorf("decoding pros: %w", err)
	}
	cons, err := splitClaims(m.Cons)
	if err != nil {
		return answer.Answer{}, fmt.Errorf("decoding cons: %w", err)
	}
	citations := []answer.Citation{}
	if err := json.Unmarshal([]byte(m.Citations), &citations); err != nil {
		return answer.Answer{}, fmt.Errorf("decoding citations: %w", err)
	}
	if citations == nil {
		citations = []answer.Citation{}
	}
	return answer.Answer{Pros: pros, Cons: cons, Citations: citations}, nil
}

var claimEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func joinClaims(claims []string) string {
	escaped := make([]string, len(claims))
	for i, c := range claims {
		escaped[i] = claimEscaper.Replace(c)
	}
	return strings.Join(escaped, "\n")
}

func splitClaims(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}
	parts := strings.Split(s, "\n")
	for i, p := range parts {
		c, err := unescapeClaim(p)
		if err != nil {
			return nil, err
		}
		parts[i] = c
	}
	return parts, nil
}

func unescapeClaim(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("dangling escape in %q", s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		default:
			return "", fmt.Errorf("unknown escape \\%c in %q", s[i], s)
		}
	}
	return b.String(), nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into buf, growing it when
// needed. A length that is not a multiple of 4 means the blob is corrupt.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine returns dot(a,b) / (aNorm * |b|), or 0 for mismatched or zero vectors.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) != len(b) || aNorm == 0 {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return dot / (aNorm * math.Sqrt(bNormSq))
}
