// Package codec translates between the canonical entity model and the two
// JSON wire schemas the gateway speaks.
//
// The downstream schema is the panel protocol: command and broadcast frames
// share the {"type", "payload"} envelope and payload fields are omitted
// when unset. The upstream schema is the Home Assistant websocket API:
// state_changed events are decoded into entities and entities are encoded
// into call_service requests.
//
// Every function is pure; there is one encoder and one decoder per kind,
// selected by the message kind discriminator.
package codec
