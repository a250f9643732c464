// Package influxdb writes authentication metrics to InfluxDB v2.
//
// Every security event becomes one point in the auth_events measurement,
// tagged by event type and outcome, so dashboards can chart login
// failures, revocations and rate limit hits over time.
//
// Writes are non-blocking and batched by the client library. Failures are
// reported through SetOnError, never to the request that produced the
// event.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent("login_failed", "failure", nil, time.Now())
package influxdb
