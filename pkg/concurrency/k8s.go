package concurrency

import (
	"fmt"
	"runtime"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// InitializeForKubernetes sets GOMAXPROCS from the container CPU quota. Call
// it at the start of main. The returned function restores the previous value.
func InitializeForKubernetes(logger *zap.Logger) func() {
	if logger == nil {
		logger = zap.NewNop()
	}
	printf := func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	}

	undo, err := maxprocs.Set(maxprocs.Logger(printf))
	if err != nil {
		logger.Warn("Failed to set maxprocs", zap.Error(err))
		return func() {}
	}

	logger.Info("Concurrency initialized", zap.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	return undo
}
