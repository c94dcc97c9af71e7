// Package log provides slog loggers that mask sensitive values.
//
// SecureHandler wraps any slog.Handler. It masks attributes whose key names
// a credential (cookie, authorization, token and similar), values that look
// like bearer tokens or JWTs, and the password and credential query
// parameters of URL values. Harvests log a lot of URLs, and signed image
// URLs must not leak through -v output.
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Info("asset acquired", "url", "https://cdn.example.com/a.png?sig=abc")
//	// url=https://cdn.example.com/a.png?sig=%2A%2A%2AREDACTED%2A%2A%2A
//
// The loggers are also handed to the embedded Tor daemon, which logs through
// slog as well.
package log
