package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// KeyGenerator builds cache keys from logical request parameters.
// The key format is: <prefix><sha256-hex(canonical params)>.
type KeyGenerator struct {
	// Prefix is prepended to all generated keys, e.g. "cache:cep:".
	Prefix string
}

// NewKeyGenerator creates a KeyGenerator with the given scope prefix.
func NewKeyGenerator(prefix string) *KeyGenerator {
	return &KeyGenerator{Prefix: prefix}
}

// Generate canonicalizes params and returns the prefixed SHA-256 key.
//
// Canonicalization: entries whose value is nil or the empty string are
// dropped; remaining keys are sorted lexicographically and joined as
// "key:value" pairs with "|" separators. Two maps that differ only by
// iteration order or by filtered-empty entries hash identically. Values of
// different types with the same text ("1" vs 1) stay distinct because
// strings are rendered in quoted literal form.
func (g *KeyGenerator) Generate(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(k)
		sb.WriteByte(':')
		sb.WriteString(formatValue(params[k]))
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return g.Prefix + hex.EncodeToString(sum[:])
}

// formatValue renders a parameter value in its unambiguous literal form.
func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		// Callers coerce anything exotic before invocation; fall back to the
		// quoted Sprintf form so it at least stays stable.
		return strconv.Quote(fmt.Sprintf("%v", t))
	}
}
