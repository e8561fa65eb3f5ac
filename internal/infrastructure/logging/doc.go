// Package logging configures structured logging over log/slog.
//
// Every package takes a *logging.Logger rather than reaching for a global:
// the root logger is built once from the logging section of config.yaml,
// then narrowed per component with With:
//
//	logger := logging.New(cfg.Logging, version)
//	wsLogger := logger.With("component", "stream")
//
// Output is JSON by default (machine-parsable, one record per line) with a
// text format for local development, filtered by level, and stamped with
// service and version attributes.
//
// Never log secrets, tokens, or password material. When a token must be
// correlated across records, log a short prefix only:
//
//	logger.Info("token verified", "token_prefix", token[:8]+"...")
package logging
