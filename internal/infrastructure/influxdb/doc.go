// Package influxdb ships bus telemetry to an InfluxDB v2 server.
//
// Telemetry is optional. All writes go through the client library's
// batching write API, so the dispatch loop never waits on the network.
package influxdb
