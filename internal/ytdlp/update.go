// SPDX-License-Identifier: MIT

package ytdlp

import (
	"context"
	"sync"
	"time"

	"github.com/podlift/podlift/internal/log"
)

type updateState struct {
	mu   sync.Mutex
	last time.Time
}

// maybeSelfUpdate runs the tool's self-updater at most once per configured
// interval. Failures are logged and ignored; an outdated extractor still
// works for most sources.
func (c *Client) maybeSelfUpdate(ctx context.Context) {
	if c.opts.UpdateEvery <= 0 {
		return
	}

	c.update.mu.Lock()
	due := time.Since(c.update.last) >= c.opts.UpdateEvery
	if due {
		c.update.last = time.Now()
	}
	c.update.mu.Unlock()
	if !due {
		return
	}

	channel := c.opts.UpdateChannel
	if channel == "" {
		channel = "stable"
	}

	logger := log.WithComponentFromContext(ctx, "ytdlp")
	uctx, cancel := context.WithTimeout(ctx, c.opts.MetadataTimeout)
	defer cancel()
	_, stderr, exitCode, err := c.run.run(uctx, []string{"--update-to", channel})
	if err != nil || exitCode != 0 {
		logger.Warn().
			Str(log.FieldEvent, "extractor.update_failed").
			Int("exit_code", exitCode).
			Str("stderr", firstLine(string(stderr))).
			Msg("yt-dlp self-update failed")
		return
	}
	logger.Info().
		Str(log.FieldEvent, "extractor.updated").
		Str("channel", channel).
		Msg("yt-dlp self-update completed")
}
