// Package influxdb provides the InfluxDB writer behind the gateway's
// entity state history.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEntityState("cover", "cover.blinds",
//	    map[string]any{"position": 40}, time.Now())
//
// # Error Handling
//
// Writes are non-blocking and batch errors are delivered to the callback
// set with SetOnError. Connection and health check errors are returned
// directly.
package influxdb
