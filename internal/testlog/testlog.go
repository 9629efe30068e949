// Package testlog quiets the global zerolog logger in test binaries.
package testlog

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

// EnvLevel names the variable that turns logs back on, e.g.
// LIFESCOPE_TEST_LOG=debug go test -v ./...
const EnvLevel = "LIFESCOPE_TEST_LOG"

// Level returns the level set in EnvLevel. It is zerolog.Disabled when the
// variable is unset or invalid.
func Level() zerolog.Level {
	level, err := zerolog.ParseLevel(os.Getenv(EnvLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.Disabled
	}
	return level
}

// Main is a TestMain body: it sets the global level and runs the tests.
func Main(m *testing.M) {
	zerolog.SetGlobalLevel(Level())
	os.Exit(m.Run())
}
