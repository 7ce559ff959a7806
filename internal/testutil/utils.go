package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger tagged with the test name. Components started
// by a test may keep logging after it ends, so output goes to stdout rather
// than t.Log.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags|log.Lmsgprefix)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
