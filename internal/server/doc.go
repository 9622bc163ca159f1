// Package server implements the HTTP listener for build notifications.
//
// This package provides:
//   - POST / and POST /hook: build notifications, answered once the
//     deployment has finished
//   - GET /health, GET /status and GET /metrics for monitoring
//   - Optional HMAC-SHA256 signature verification (X-Redeploy-Signature)
//   - Per-IP rate limiting and structured request logging
//
// Deployment errors map to status codes through their kind: builds that
// cannot be deployed are 404, failed deployments 400, publish and internal
// failures 500, and a notification that gave up waiting for the deployment
// lock 503.
package server
