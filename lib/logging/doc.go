// Package logging configures the package loggers of txKV.
//
// Every package obtains its logger once through dragonboat's logger registry
// (var Logger = logger.GetLogger("writer")). InitLoggers swaps the registry's
// factory for one that prints "LEVEL | package | message" lines and applies the
// configured level to all txKV loggers.
package logging
