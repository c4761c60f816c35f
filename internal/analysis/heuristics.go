package analysis

import (
	"strings"
	"unicode"
)

// Text heuristics backstop providers that return a transcript without
// content signals. Scores are coarse on purpose: the accept/quarantine bands
// absorb the imprecision, and the advanced path replaces them entirely.

var spamMarkers = []string{
	"free money", "act now", "limited time", "click here", "winner",
	"guaranteed", "no obligation", "risk free", "unsubscribe", "buy now",
	"lowest price", "earn cash", "work from home", "crypto", "investment opportunity",
}

// SpamScore estimates spam likelihood from marker density and link count.
func SpamScore(transcript string) float64 {
	text := strings.ToLower(transcript)
	if strings.TrimSpace(text) == "" {
		return 0
	}
	hits := 0
	for _, marker := range spamMarkers {
		if strings.Contains(text, marker) {
			hits++
		}
	}
	links := strings.Count(text, "http://") + strings.Count(text, "https://") + strings.Count(text, "www.")
	score := float64(hits)*0.25 + float64(links)*0.2
	return clamp01(score)
}

// GibberishScore estimates how unlikely the transcript is to be real speech.
// It combines vowel ratio, average token length, and token repetition; all
// three drift far from natural language when transcription saw noise.
func GibberishScore(transcript string) float64 {
	tokens := strings.Fields(strings.ToLower(transcript))
	if len(tokens) == 0 {
		return 1
	}

	var letters, vowels, longTokens int
	seen := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		seen[tok]++
		if len(tok) > 14 {
			longTokens++
		}
		for _, r := range tok {
			if unicode.IsLetter(r) {
				letters++
				if strings.ContainsRune("aeiouy", r) {
					vowels++
				}
			}
		}
	}
	if letters == 0 {
		return 1
	}

	vowelRatio := float64(vowels) / float64(letters)
	var score float64
	// Natural English sits near 0.35-0.45 vowels per letter.
	if vowelRatio < 0.2 || vowelRatio > 0.65 {
		score += 0.5
	}
	score += float64(longTokens) / float64(len(tokens))

	// Heavy repetition of a single token reads as a stuck transcription.
	max := 0
	for _, count := range seen {
		if count > max {
			max = count
		}
	}
	if len(tokens) >= 5 && float64(max)/float64(len(tokens)) > 0.5 {
		score += 0.4
	}
	return clamp01(score)
}
