// README: Process logger built on zap.
package infra

import (
	"os"

	"go.uber.org/zap"
)

// NewLogger builds the process logger. HAUL_LOG_LEVEL=debug switches to the
// development encoder; everything else gets production JSON output.
func NewLogger() (*zap.Logger, error) {
	if os.Getenv("HAUL_LOG_LEVEL") == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
