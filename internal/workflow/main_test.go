package workflow

import (
	"testing"

	"go.uber.org/goleak"

	"github.com/openclaw/partnerforge/internal/config"
	"github.com/openclaw/partnerforge/internal/observability"
)

func TestMain(m *testing.M) {
	observability.InitializeLogger(config.LoggerConfig{Level: "error", Format: "console"})
	goleak.VerifyTestMain(m)
}
