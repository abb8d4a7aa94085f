// Package tokens approximates text size in abstract tokens for budget accounting.
package tokens

import "unicode/utf8"

// DefaultCharsPerToken is used when an Estimator is built with a non-positive ratio.
const DefaultCharsPerToken = 4

// Estimator estimates token counts with a fixed characters-per-token ratio.
// It is a rough approximation, not a tokenizer.
type Estimator struct {
	charsPerToken int
}

func NewEstimator(charsPerToken int) Estimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return Estimator{charsPerToken: charsPerToken}
}

// Estimate returns floor(characters / ratio), counting Unicode code points
// so non-Latin text is not inflated by its UTF-8 width.
func (e Estimator) Estimate(text string) int {
	r := e.charsPerToken
	if r <= 0 {
		r = DefaultCharsPerToken
	}
	return utf8.RuneCountInString(text) / r
}
