// Package console is the network core's single log sink: a slog.Logger
// writing through a tint handler, the way the teacher's serial package is
// the kernel's single character sink for the boot console. Code that logs
// (netinit's RX delivery callback, cmd/ping) goes through the shared
// *slog.Logger returned by Default instead of opening its own handler, so
// output stays ordered and consistently formatted.
package console

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/lmittmann/tint"
)

var (
	mu      sync.Mutex
	output  io.Writer = os.Stdout
	logger  *slog.Logger
	initted bool
)

// SetOutput redirects the console sink, mirroring serial.Serial.SetOutput —
// tests point it at a buffer instead of the real console.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	output = w
	logger = newLogger(output)
}

// Default returns the process-wide console logger, constructing it on first
// use against the current output sink.
func Default() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if !initted {
		logger = newLogger(output)
		initted = true
	}

	return logger
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "15:04:05.000",
	}))
}
