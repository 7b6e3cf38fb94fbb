/*
Package log provides structured logging for comet using zerolog.

A single package-level zerolog.Logger is configured once at startup through
Init and shared by every component. Components attach their own context with
the child-logger helpers:

	logger := log.WithComponent("publisher")
	logger.Info().Str("address", addr).Msg("publisher listening")

	connLog := log.WithRemote("receiver", conn.RemoteAddr().String(), connID)
	connLog.Debug().Str("ivorn", ev.IVORN).Msg("event accepted")

# Output

Console output (the default) is meant for operators watching a terminal:

	2026-10-19T10:30:00Z INF event accepted component=receiver ivorn=ivo://test/A

JSON output (Config.JSONOutput) is meant for log shipping:

	{"level":"info","component":"receiver","ivorn":"ivo://test/A","time":"...","message":"event accepted"}

# Levels

Levels are set globally with zerolog.SetGlobalLevel. Unknown level strings
fall back to info. Debug logging includes per-frame protocol traffic
(keepalives, acknowledgements from subscribers) and is noisy on busy brokers.

Until Init is called the zero-value Logger discards everything, so packages
can be used from tests without any logging setup.
*/
package log
