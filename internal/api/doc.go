// Package api implements the HTTP and WebSocket surface of the PanelSense gateway.
//
// This package provides:
//   - The panel websocket endpoint, adapting gorilla connections to gateway.Conn
//   - Health and metrics endpoints
//   - Admin endpoints guarded by Bearer admin tokens, with an audit trail of
//     configuration changes
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Backpressure
//
// Each panel connection owns a bounded outbound queue drained by a write
// pump. A send that cannot be queued within websocket.send_timeout closes
// the connection, and the gateway router deregisters the panel.
//
// # Graceful Degradation
//
// Panels stay connected while Home Assistant is unreachable. Their commands
// fail upstream and health reports "degraded".
package api
