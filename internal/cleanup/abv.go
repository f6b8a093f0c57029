package cleanup

import (
	"regexp"
	"strconv"
	"strings"
)

// abvPattern recognizes the three textual forms a description or LLM
// response might carry an ABV in: "N%", "ABV: N", and "N ABV". The first
// alternative that matches wins.
var abvPattern = regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*%|abv\s*:?\s*(\d{1,3}(?:\.\d+)?)|(\d{1,3}(?:\.\d+)?)\s*abv\b`)

// ExtractABV returns the first ABV value found in text, if any. Values
// outside [0,100] are rejected as unlikely to be an ABV percentage at all.
func ExtractABV(text string) *float64 {
	m := abvPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	var raw string
	for _, g := range m[1:] {
		if g != "" {
			raw = g
			break
		}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 100 {
		return nil
	}
	return &v
}

// preamblePattern strips known LLM preambles ("Here is the cleaned text:"
// and close variants) before the rest of cleanDescriptionSafely's
// validators run.
var preamblePattern = regexp.MustCompile(`(?i)^\s*here(?:'s| is)\s+the\s+cleaned\s+(?:text|description)\s*:?\s*`)

func stripPreamble(s string) string {
	return preamblePattern.ReplaceAllString(s, "")
}

// CleanResult is the outcome of validating an LLM cleanup response against
// the original description.
type CleanResult struct {
	Cleaned      string
	UsedOriginal bool
	ExtractedABV *float64
}

// CleanDescriptionSafely applies the three cleanup validators in order —
// preamble strip, ABV preservation, length guard — falling back to the
// original description whenever the LLM's response can't be trusted. ABV is
// extracted exactly once from whichever text is ultimately adopted, plus
// once from the original to run the preservation check.
func CleanDescriptionSafely(original, llmResponse string) CleanResult {
	stripped := strings.TrimSpace(stripPreamble(llmResponse))

	originalABV := ExtractABV(original)
	cleanedABV := ExtractABV(stripped)

	if originalABV != nil && cleanedABV == nil {
		return CleanResult{Cleaned: original, UsedOriginal: true, ExtractedABV: originalABV}
	}

	ratio := 1.0
	if len(original) > 0 {
		ratio = float64(len(stripped)) / float64(len(original))
	}
	if ratio < 0.7 || ratio > 1.1 {
		return CleanResult{Cleaned: original, UsedOriginal: true, ExtractedABV: originalABV}
	}

	return CleanResult{Cleaned: stripped, UsedOriginal: false, ExtractedABV: cleanedABV}
}
