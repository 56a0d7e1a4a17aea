package knowledge

import (
	"hash/fnv"
	"strconv"
	"strings"
	"unicode"
)

// labelSynonyms maps common shorthand to the canonical vocabulary. Unmapped
// labels pass through unchanged.
var labelSynonyms = map[string]string{
	// School abbreviations
	"宁诺": "宁波诺丁汉大学",
	"西浦": "西交利物浦大学",
	"广以": "广东以色列理工学院",

	// Major groupings
	"理工": "理工科",
	"商科": "商业管理",
	"文科": "人文社科",

	// Application stages
	"本科":  "本科申请",
	"研究生": "研究生申请",
	"博士":  "博士申请",
}

// Fingerprint produces a stable content hash for exact deduplication. All
// punctuation and whitespace are stripped and ASCII letters lowered before
// hashing, so units that differ only in formatting collide. Paraphrases do
// not collide; this is an exact dedup, not a fuzzy one.
func Fingerprint(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	h := fnv.New64a()
	h.Write([]byte(b.String()))
	return strconv.FormatUint(h.Sum64(), 16)
}

// StandardizeLabels applies the synonym table and deduplicates the result,
// preserving first-seen order.
func StandardizeLabels(rawLabels []string) []string {
	seen := make(map[string]struct{}, len(rawLabels))
	out := make([]string, 0, len(rawLabels))
	for _, label := range rawLabels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if canonical, ok := labelSynonyms[label]; ok {
			label = canonical
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

// DeduplicateUnits drops units whose content fingerprint was already seen
// earlier in the slice. First-seen wins. The operation is pure and
// idempotent: applying it to its own output returns the same set.
func DeduplicateUnits(units []Unit) []Unit {
	seen := make(map[string]struct{}, len(units))
	out := make([]Unit, 0, len(units))
	for _, unit := range units {
		fp := Fingerprint(unit.Content)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, unit)
	}
	return out
}
