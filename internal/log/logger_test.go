// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestConfigureAttachesServiceFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Service: "podlift", Version: "test"})

	logger := WithComponent("daemon")
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"service":"podlift"`)
	assert.Contains(t, out, `"version":"test"`)
	assert.Contains(t, out, `"component":"daemon"`)
}

func TestConfigureStacktraceSetsMarshaler(t *testing.T) {
	zerolog.ErrorStackMarshaler = nil
	t.Cleanup(func() { zerolog.ErrorStackMarshaler = nil })

	Configure(Config{Output: &bytes.Buffer{}})
	assert.Nil(t, zerolog.ErrorStackMarshaler)

	Configure(Config{Output: &bytes.Buffer{}, Stacktrace: true})
	assert.NotNil(t, zerolog.ErrorStackMarshaler)
}
