package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init(Config{Level: "loud"}))
}

func TestInitRejectsUnknownEncoding(t *testing.T) {
	require.Error(t, Init(Config{Level: "info", Encoding: "xml"}))
}

func TestGetProvidesDefault(t *testing.T) {
	first := Get()
	require.NotNil(t, first)

	// Later Init calls cannot swap the logger out from under components.
	require.NoError(t, Init(Config{Level: "debug", Encoding: "console"}))
	assert.Same(t, first, Get())
}
