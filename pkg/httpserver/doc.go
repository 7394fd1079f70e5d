// Package httpserver runs the notification service's HTTP listener with
// graceful shutdown on context cancellation or SIGINT/SIGTERM.
package httpserver
