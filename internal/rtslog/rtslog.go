// Package rtslog is the structured-logging shim for the components that sit
// outside the GC's no-alloc hot path: cmd/gcbench (run stats) and sanity
// (snapshot-verify failures). The hot path (gc/*, space, markstack, bitmap,
// pagealloc) never imports this package — it can only call an rtstrap.Hook
// through rtstrap.Trapf,
// the same discipline the teacher's own allocator keeps on its hot path.
package rtslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger so callers don't need to import zerolog
// themselves for the handful of fields this package actually needs.
type Logger struct {
	zl zerolog.Logger
}

// New builds a console-formatted logger writing to w, used by cmd/gcbench
// for human-readable run output.
func New(w io.Writer) Logger {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return Logger{zl: zerolog.New(cw).With().Timestamp().Logger()}
}

// Default is a console logger writing to stderr, used wherever a caller
// doesn't need to direct output elsewhere.
func Default() Logger { return New(os.Stderr) }

func (l Logger) Info(msg string) { l.zl.Info().Msg(msg) }

// Stat logs a named numeric run statistic (collector name, pages used,
// bytes collected, pass count — whatever cmd/gcbench wants to report).
func (l Logger) Stat(name string, value uint64) {
	l.zl.Info().Str("stat", name).Uint64("value", value).Send()
}

// MissingBarrier reports a snapshot-verify failure: a pointer field changed
// between snapshots without a corresponding remembered-set entry (spec
// §4.9 "fails with 'Missing write barrier at 0x…'"). It logs the structured
// fields before the caller traps.
func (l Logger) MissingBarrier(fieldAddr uint32, oldVal, newVal uint32) {
	l.zl.Error().
		Uint32("field_addr", fieldAddr).
		Uint32("old_value", oldVal).
		Uint32("new_value", newVal).
		Msg("missing write barrier")
}

// SanityFailure reports any other check_memory assertion failure with the
// offending address and a human-readable reason.
func (l Logger) SanityFailure(addr uint32, reason string) {
	l.zl.Error().Uint32("addr", addr).Str("reason", reason).Msg("sanity check failed")
}
