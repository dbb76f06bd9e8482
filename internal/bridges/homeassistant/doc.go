// Package homeassistant is the upstream adapter of the PanelSense gateway.
//
// It keeps one websocket connection to Home Assistant:
//
//  1. dial the websocket API
//  2. wait for auth_required, send the access token, wait for auth_ok
//  3. subscribe to state_changed events
//  4. decode light, cover and switch state changes and hand them to the
//     EventHandler
//
// Panel commands reach the hub through Dispatch, which sends call_service
// requests on the live connection.
//
// When the connection drops the client reconnects with exponential backoff
// (doubling from the initial delay up to the maximum). The attempt counter
// resets after every successful handshake. A rejected access token stops the
// client: retrying with the same token cannot succeed.
package homeassistant
