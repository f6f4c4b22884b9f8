// SPDX-License-Identifier: MIT

package ytdlp

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced to callers. Everything the tool can fail with is
// collapsed into this taxonomy; raw stderr never leaves the wrapper except
// as captured logs.
var (
	ErrNotFound        = errors.New("source not found")
	ErrForbidden       = errors.New("access forbidden")
	ErrRateLimited     = errors.New("rate limited by upstream")
	ErrCookiesRequired = errors.New("authentication cookies required")
	ErrItemFiltered    = errors.New("no media matching selection")
	ErrExtractorFailed = errors.New("extractor failed")
)

// ErrMissingField indicates the tool's JSON output lacked a required field.
var ErrMissingField = errors.New("missing field in extractor output")

// ErrBadFormat indicates the tool's output could not be parsed at all.
var ErrBadFormat = errors.New("malformed extractor output")

// classifyFailure maps the tool's stderr to the error taxonomy. Patterns
// follow yt-dlp's actual error strings and deliberately match loosely.
func classifyFailure(stderr string, exitCode int) error {
	lower := strings.ToLower(stderr)
	switch {
	case containsAny(lower,
		"video unavailable",
		"this video is not available",
		"404",
		"does not exist",
		"unable to find",
		"no longer available"):
		return fmt.Errorf("%w: %s", ErrNotFound, firstLine(stderr))
	case containsAny(lower,
		"private video",
		"403",
		"access denied",
		"members-only",
		"this video is available to this channel's members"):
		return fmt.Errorf("%w: %s", ErrForbidden, firstLine(stderr))
	case containsAny(lower,
		"429",
		"too many requests",
		"rate-limit",
		"rate limit"):
		return fmt.Errorf("%w: %s", ErrRateLimited, firstLine(stderr))
	case containsAny(lower,
		"sign in to confirm",
		"use --cookies",
		"cookies are no longer valid",
		"login required",
		"account cookies"):
		return fmt.Errorf("%w: %s", ErrCookiesRequired, firstLine(stderr))
	case containsAny(lower,
		"does not pass filter",
		"no video formats",
		"requested format is not available",
		"no media found"):
		return fmt.Errorf("%w: %s", ErrItemFiltered, firstLine(stderr))
	default:
		return fmt.Errorf("%w (exit %d): %s", ErrExtractorFailed, exitCode, firstLine(stderr))
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// firstLine returns the first ERROR line of stderr, or the first non-empty
// line when none is marked.
func firstLine(stderr string) string {
	var fallback string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR") {
			return line
		}
		if fallback == "" {
			fallback = line
		}
	}
	if fallback == "" {
		return "no output"
	}
	return fallback
}
