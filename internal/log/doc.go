// Package log provides slog loggers that mask sensitive information.
//
// SecureHandler wraps any slog.Handler. It masks values under
// credential-like keys (cookie, authorization, password, token, ...) and
// values that look like tokens or keys. URLs in attribute values, error
// messages and log messages keep their shape; only a userinfo password and
// credential-like query parameters are replaced, so crawled URLs stay
// readable even when they carry credentials.
//
// # Usage
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Debug("url failed", "url", u, "error", err)
package log
