package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteExchange records a completed DALI exchange.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - direction: "request" for client-issued commands, "bus" for sniffed frames
//   - status: "ok" or a short error label (e.g. "timeout", "no_device")
//   - latency: time from enqueue to completion (zero for bus frames)
func (c *Client) WriteExchange(direction string, status string, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"bus_exchange",
		map[string]string{
			"direction": direction,
			"status":    status,
		},
		map[string]interface{}{
			"latency_ms": latency.Seconds() * millisecondsPerSecond,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteQueueDepth records the bus driver's pending-request queue depth.
//
// Parameters:
//   - depth: Requests waiting, not counting the one in flight
func (c *Client) WriteQueueDepth(depth int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"bus_queue",
		nil,
		map[string]interface{}{
			"depth": depth,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectionCount records the number of connected TCP clients.
func (c *Client) WriteConnectionCount(count int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"net_clients",
		nil,
		map[string]interface{}{
			"count": count,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
