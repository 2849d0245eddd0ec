package model

import (
	"errors"
	"strings"
)

var ErrEmptyPrompt = errors.New("effective prompt is empty")

// EffectivePrompt applies the profile's prefix and suffix to body and collapses
// all runs of whitespace into single spaces.
func (p Profile) EffectivePrompt(body string) (string, error) {
	joined := strings.Join(strings.Fields(p.PromptPrefix+" "+body+" "+p.PromptSuffix), " ")
	if joined == "" {
		return "", ErrEmptyPrompt
	}
	return joined, nil
}
