// Package notifications exposes the notification engine over HTTP:
// send and bulk-send endpoints, delivery inspection and cancellation,
// per-user preference management, and the open-pixel/click-redirect
// tracking endpoints that feed engagement status back into deliveries.
package notifications
