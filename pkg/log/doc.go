/*
Package log provides structured logging for rpki-client using zerolog.

The global Logger is initialized once via Init and is safe for
concurrent use from every worker process. Component loggers
(WithComponent, WithRepo, WithTAL) attach context fields so output from
the parser, validator, and fetch workers can be told apart without
threading a logger through every call.

CryptoWarn logs an object-validation failure that discards one object
while the run continues; CryptoFatal logs an unrecoverable failure and
terminates the process.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	repoLog := log.WithRepo("rsync://rpki.example/repo/")
	repoLog.Info().Msg("sync complete")
*/
package log
