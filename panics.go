package stackflow

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/goliatone/go-errors"

	"github.com/goliatone/go-stackflow/logging"
)

// PanicHandler is deferred by goroutines that must never take the process
// down. It reports the recovered value through onPanic as an error.
type PanicHandler func(funcName string, onPanic func(error), fields ...map[string]any)

// MakePanicHandler builds a PanicHandler logging through logger.
func MakePanicHandler(logger logging.Logger) PanicHandler {
	logger = logging.Normalize(logger)
	return func(funcName string, onPanic func(error), fields ...map[string]any) {
		rec := recover()
		if rec == nil {
			return
		}

		fullStack := make([]byte, 8096)
		n := runtime.Stack(fullStack, false)
		stack := cleanStackTrace(fullStack[:n])

		meta := map[string]any{"func": funcName}
		if len(fields) > 0 {
			for k, v := range fields[0] {
				meta[k] = v
			}
		}

		logging.With(logger, meta).Error("recovered from panic in %s: %v\n%s", funcName, rec, stack)

		if onPanic != nil {
			onPanic(errors.New(fmt.Sprintf("panic in %s: %v", funcName, rec), errors.CategoryInternal).
				WithTextCode("PANIC_RECOVERED").
				WithMetadata(meta))
		}
	}
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// drop the panic() frame and its file reference
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
