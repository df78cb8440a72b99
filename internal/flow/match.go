package flow

import (
	"strconv"
	"strings"
)

// MatchThreshold is the minimum token-overlap score an option must reach
// before a freeform utterance is accepted as selecting it.
const MatchThreshold = 0.5

// Scores assigned by the two non-overlap tiers of the matcher.
const (
	scoreExact     = 1.0
	scoreSubstring = 0.8
)

// BestMatch resolves a voice or chat utterance against a step's option
// list. Scoring is tiered: a case-insensitive exact match wins outright,
// substring containment in either direction scores below it, and otherwise
// the option's token-overlap ratio (shared tokens over option tokens)
// must reach MatchThreshold. Ties keep the earliest option. The boolean is
// false when nothing qualifies; a miss records no answer.
func BestMatch(utterance string, options []string) (string, bool) {
	norm := normalizeUtterance(utterance)
	if norm == "" {
		return "", false
	}
	utterTokens := tokenSet(norm)

	best := ""
	bestScore := 0.0
	for _, opt := range options {
		optNorm := normalizeUtterance(opt)
		if optNorm == "" {
			continue
		}
		var score float64
		switch {
		case norm == optNorm:
			score = scoreExact
		case strings.Contains(norm, optNorm) || strings.Contains(optNorm, norm):
			score = scoreSubstring
		default:
			score = overlapScore(utterTokens, optNorm)
			if score < MatchThreshold {
				score = 0
			}
		}
		if score > bestScore {
			best = opt
			bestScore = score
		}
	}
	if bestScore == 0 {
		return "", false
	}
	return best, true
}

// overlapScore is the fraction of the option's tokens present in the
// utterance.
func overlapScore(utterTokens map[string]bool, optNorm string) float64 {
	optTokens := strings.Fields(optNorm)
	if len(optTokens) == 0 {
		return 0
	}
	shared := 0
	for _, t := range optTokens {
		if utterTokens[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(optTokens))
}

// normalizeUtterance lowercases and strips everything but letters, digits
// and spaces, collapsing runs of whitespace.
func normalizeUtterance(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokenSet(norm string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(norm) {
		set[t] = true
	}
	return set
}

// numberWords maps spelled-out numbers to their values for spoken
// quantity and amount input.
var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13,
	"fourteen": 14, "fifteen": 15, "sixteen": 16, "seventeen": 17,
	"eighteen": 18, "nineteen": 19, "twenty": 20, "thirty": 30,
	"forty": 40, "fifty": 50, "sixty": 60, "seventy": 70,
	"eighty": 80, "ninety": 90,
}

// ParseNumericUtterance extracts the number a voice or chat utterance
// carries, for the quantity and amount steps. Digit tokens win ("send 75
// dollars" → "75", with decimals kept and $ / comma punctuation shed);
// failing that, spelled-out numbers are combined left to right ("two
// hundred fifty" → "250"). Returns false when the utterance holds no
// number.
func ParseNumericUtterance(utterance string) (string, bool) {
	for _, tok := range strings.Fields(strings.ToLower(utterance)) {
		tok = strings.Trim(tok, "$!?;:()")
		tok = strings.TrimSuffix(tok, ".")
		tok = strings.ReplaceAll(tok, ",", "")
		if tok == "" {
			continue
		}
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
	}
	return parseSpelledNumber(normalizeUtterance(utterance))
}

// parseSpelledNumber folds spelled number words into a single value,
// handling the "N hundred [M]" compound. Unrelated words are skipped
// until the first number word; the number ends at the next non-number
// word after it.
func parseSpelledNumber(norm string) (string, bool) {
	value := 0
	started := false
	for _, tok := range strings.Fields(norm) {
		if tok == "hundred" && started {
			if value == 0 {
				value = 1
			}
			value *= 100
			continue
		}
		v, ok := numberWords[tok]
		if !ok {
			if started {
				break
			}
			continue
		}
		started = true
		value += v
	}
	if !started {
		return "", false
	}
	return strconv.Itoa(value), true
}
