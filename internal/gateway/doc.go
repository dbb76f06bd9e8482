// Package gateway is the panel session core of PanelSense.
//
// It admits panel connections, keeps the registry of authenticated
// sessions, routes inbound command frames to the upstream hub and fans
// state changes out to every live panel.
//
// Per connection the Router drives the state machine
//
//	CONNECTED -> AUTHENTICATING -> AUTHENTICATED -> CLOSED
//	                            \-> REJECTED -> CLOSED
//
// A session is visible in the Registry only while AUTHENTICATED. The
// Router owns the single exit path that releases the session and closes
// the connection; broadcast failures never deregister anything.
//
// Transport is abstracted behind Conn so the core can be driven by the
// websocket layer in internal/api or by in-memory fakes in tests.
package gateway
