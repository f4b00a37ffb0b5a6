// Package logx is stockwatch's structured logging on top of zerolog.
//
// Console output is human-readable with a short file:line caller; the
// optional log file gets one JSON object per event. Loggers are values that
// stay attached to their Service, so a config reload changes level and sinks
// for every component at once.
package logx
