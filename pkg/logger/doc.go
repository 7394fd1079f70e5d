// Package logger builds the service's slog.Logger: JSON or text handler,
// level from config, optional service tag.
package logger
