// Package log contains the Logger used by the entire harness. The Logger is a wrapper around zap.SugaredLogger.
// There should be a single instance of the Logger in the application, created in main and injected into any
// structs that need to log.
package log
