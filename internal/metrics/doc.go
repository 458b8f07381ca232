// Package metrics records indexwatch activity.
//
// Components receive a Recorder and default to NoopRecorder, so metrics stay
// optional without nil checks at call sites:
//
//	trig := trigger.New(trigger.Options{Recorder: metrics.NoopRecorder{}})
//
// When the admin server is enabled the daemon swaps in a PrometheusRecorder
// registered on its own registry and serves it through HTTPHandler.
package metrics
