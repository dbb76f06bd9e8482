// Package mirror copies the gateway's entity traffic to external systems.
//
// StatePublisher and MetricsWriter are gateway observers: they see every
// canonical state event after it has been fanned out to the panels and
// publish it to MQTT (retained, one topic per entity) or record it in
// InfluxDB. CommandBridge goes the other way and turns messages on the MQTT
// command tree into the same actions panels send.
//
// Mirrors never block the broadcast path. A slow broker loses mirror
// updates, not panel updates.
package mirror
