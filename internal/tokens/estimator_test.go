package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimate(t *testing.T) {
	e := NewEstimator(4)
	assert.Equal(t, 0, e.Estimate(""))
	assert.Equal(t, 0, e.Estimate("abc"))
	assert.Equal(t, 1, e.Estimate("abcd"))
	assert.Equal(t, 2, e.Estimate("abcdefghi"))
	assert.Equal(t, 250, e.Estimate(strings.Repeat("x", 1000)))
}

func TestEstimateDefaultsRatio(t *testing.T) {
	assert.Equal(t, 2, NewEstimator(0).Estimate("12345678"))

	var zero Estimator
	assert.Equal(t, 2, zero.Estimate("12345678"))
}

func TestEstimateCountsCharactersNotBytes(t *testing.T) {
	e := NewEstimator(4)
	assert.Equal(t, 3, e.Estimate("привет, мир! 👋👋"))
	assert.Equal(t, 1, e.Estimate("日本語です"))
	assert.Equal(t, e.Estimate(strings.Repeat("x", 400)), e.Estimate(strings.Repeat("ж", 400)))
}
