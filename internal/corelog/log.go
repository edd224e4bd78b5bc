// Package corelog gives the rest of the tree a small set of leveled
// logging helpers backed by zerolog, mirroring the call shape the teacher
// codebase used over a hand-rolled fmt.Printf logger.
package corelog

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

func base() zerolog.Logger {
	once.Do(func() {
		level := zerolog.InfoLevel
		if os.Getenv("LOG_DEBUG") == "YES" {
			level = zerolog.DebugLevel
		}
		w := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}
		logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	})
	return logger
}

// Info logs an informational line.
func Info(msg string) {
	base().Info().Msg(msg)
}

// Warning logs a warning line.
func Warning(msg string) {
	base().Warn().Msg(msg)
}

// Error logs an error.
func Error(err error) {
	base().Error().Err(err).Msg("")
}

// ErrorMessage logs an ad-hoc error line with no accompanying error value.
func ErrorMessage(msg string) {
	base().Error().Msg(msg)
}

// Debug logs a line only when LOG_DEBUG=YES.
func Debug(msg string) {
	base().Debug().Msg(msg)
}

var requestsEnabled = os.Getenv("LOG_REQUESTS") != "NO"

// Request logs a per-connection request line, tagged with session id and
// peer address, gated by LOG_REQUESTS (default on).
func Request(sessionID uint64, peer string, line string) {
	if !requestsEnabled {
		return
	}
	base().Info().Str("session", strconv.FormatUint(sessionID, 10)).Str("peer", peer).Msg(line)
}

// DebugSession is the debug-gated counterpart of Request.
func DebugSession(sessionID uint64, peer string, line string) {
	base().Debug().Str("session", strconv.FormatUint(sessionID, 10)).Str("peer", peer).Msg(line)
}

// Elapsed is a small helper for logging how long an operation took, rounded
// to the millisecond, in place of the teacher's ad-hoc strconv.Itoa
// duration strings.
func Elapsed(start time.Time) string {
	return time.Since(start).Round(time.Millisecond).String()
}

// Stats logs msg with an arbitrary set of int64-valued fields, used by
// internal/statshooks to emit a periodic counters snapshot through the same
// structured logger as everything else rather than a separate metrics
// exposition format.
func Stats(msg string, fields map[string]int64) {
	ev := base().Info()
	for k, v := range fields {
		ev = ev.Int64(k, v)
	}
	ev.Msg(msg)
}
