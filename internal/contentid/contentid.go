// SPDX-License-Identifier: MIT

// Package contentid extracts the 11-character content identifier from user
// input: either a bare id or any URL that embeds one.
package contentid

import (
	"errors"
	"regexp"
)

// ErrInvalid is returned when no content id can be extracted from the input.
var ErrInvalid = errors.New("invalid content id")

var (
	bareRe   = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	watchRe  = regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]{11})(?:[&#]|$)`)
	shortRe  = regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{11})(?:[?&#/]|$)`)
	shortsRe = regexp.MustCompile(`/shorts/([A-Za-z0-9_-]{11})(?:[?&#/]|$)`)
)

// Parse returns the content id contained in input. Accepted forms are a bare
// 11-character id, a watch URL (?v=), a short link (youtu.be/) and a shorts
// URL (/shorts/).
func Parse(input string) (string, error) {
	if bareRe.MatchString(input) {
		return input, nil
	}
	for _, re := range []*regexp.Regexp{watchRe, shortRe, shortsRe} {
		if m := re.FindStringSubmatch(input); m != nil {
			return m[1], nil
		}
	}
	return "", ErrInvalid
}

// Valid reports whether s is a well-formed bare content id.
func Valid(s string) bool {
	return bareRe.MatchString(s)
}
