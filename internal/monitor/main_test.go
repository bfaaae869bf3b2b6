package monitor

import (
	"os"
	"testing"

	"github.com/ccolleatte/dao-services/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetDefaultLogger(logger.NewNop())
	os.Exit(m.Run())
}
