package utils

import (
	"fmt"
)

// MaskMaxLength is the longest raw mask string accepted.
const MaskMaxLength = 255

// tokenSizes maps hashcat mask placeholders to their charset cardinality.
var tokenSizes = map[string]float64{
	"?l": 26,  // lowercase
	"?u": 26,  // uppercase
	"?d": 10,  // digits
	"?s": 33,  // symbols
	"?a": 95,  // all printable
	"?b": 256, // byte
	"?h": 16,  // hex lower
	"?H": 16,  // hex upper
}

// customTokens are the placeholders resolved from an attack's custom
// charsets; their cardinality is the length of the configured charset.
var customTokens = map[string]int{
	"?1": 0,
	"?2": 1,
	"?3": 2,
	"?4": 3,
}

// MaskPosition is a single position of a parsed mask: either a two
// character placeholder or a literal character.
type MaskPosition struct {
	Token     string
	IsLiteral bool
}

// ParseMask splits a mask into positions. Literal characters are legal
// anywhere; a trailing bare '?' is not.
func ParseMask(mask string) ([]MaskPosition, error) {
	if mask == "" {
		return nil, fmt.Errorf("mask cannot be empty")
	}
	if len(mask) > MaskMaxLength {
		return nil, fmt.Errorf("mask exceeds %d characters", MaskMaxLength)
	}

	var positions []MaskPosition
	for i := 0; i < len(mask); {
		if mask[i] == '?' {
			if i+1 >= len(mask) {
				return nil, fmt.Errorf("incomplete placeholder at end of mask")
			}
			positions = append(positions, MaskPosition{Token: mask[i : i+2]})
			i += 2
		} else {
			positions = append(positions, MaskPosition{Token: string(mask[i]), IsLiteral: true})
			i++
		}
	}
	return positions, nil
}

// ValidateMaskSyntax rejects masks containing placeholders outside the
// supported set. Literals are always allowed.
func ValidateMaskSyntax(mask string) error {
	positions, err := ParseMask(mask)
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.IsLiteral {
			continue
		}
		if _, ok := tokenSizes[pos.Token]; ok {
			continue
		}
		if _, ok := customTokens[pos.Token]; ok {
			continue
		}
		return fmt.Errorf("invalid placeholder: %s", pos.Token)
	}
	return nil
}

// tokenCardinality resolves one placeholder to its charset size. Custom
// placeholders take the length of the corresponding configured charset;
// anything unrecognized counts as a single fixed candidate.
func tokenCardinality(token string, charsets [4]string) float64 {
	if size, ok := tokenSizes[token]; ok {
		return size
	}
	if slot, ok := customTokens[token]; ok {
		if cs := charsets[slot]; cs != "" {
			return float64(len(cs))
		}
		return 1
	}
	return 1
}

// maskTokens extracts only the placeholder positions of a mask, the way
// increment layers are counted. Parse errors yield an empty token list so
// estimation degrades to zero-keyspace instead of failing mid-schedule.
func maskTokens(mask string) []string {
	positions, err := ParseMask(mask)
	if err != nil {
		return nil
	}
	tokens := make([]string, 0, len(positions))
	for _, pos := range positions {
		if !pos.IsLiteral {
			tokens = append(tokens, pos.Token)
		}
	}
	return tokens
}

// MaskKeyspace multiplies the cardinality of every placeholder in the
// mask. Literals are fixed and contribute a factor of one.
func MaskKeyspace(mask string, charsets [4]string) float64 {
	keyspace := 1.0
	for _, token := range maskTokens(mask) {
		keyspace *= tokenCardinality(token, charsets)
	}
	return keyspace
}

// MaskIncrementKeyspace sums the keyspace of each mask prefix between
// minLen and maxLen placeholders. Increment only applies when both bounds
// are set and minLen < maxLen; otherwise the full mask keyspace is
// returned unchanged.
func MaskIncrementKeyspace(mask string, charsets [4]string, minLen, maxLen int) float64 {
	tokens := maskTokens(mask)
	if minLen <= 0 || maxLen <= 0 || minLen >= maxLen {
		return MaskKeyspace(mask, charsets)
	}
	if maxLen > len(tokens) {
		maxLen = len(tokens)
	}

	total := 0.0
	for length := minLen; length <= maxLen; length++ {
		layer := 1.0
		for _, token := range tokens[:length] {
			layer *= tokenCardinality(token, charsets)
		}
		total += layer
	}
	return total
}
