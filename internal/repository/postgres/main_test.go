package postgres

import (
	"os"
	"testing"

	"ideaflow/pkg/logger"
)

// TestMain runs before all tests in this package
func TestMain(m *testing.M) {
	_ = logger.Init("error", "test")
	os.Exit(m.Run())
}
