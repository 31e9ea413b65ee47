// Package dispatch implements the event loop at the heart of
// daliserver: a single-threaded reactor multiplexing network readiness,
// device transfer completions, per-source deadlines, and the shutdown
// notifier.
//
// The owning process drives the loop:
//
//	d := dispatch.New()
//	// ... components register their sources ...
//	for !notifier.Signaled() && d.Run(driver.Timeout()) {
//	}
//
// All handler callbacks execute on the goroutine calling Run, which is
// what makes the rest of the daemon lock-free: component state is only
// ever mutated from inside a callback.
package dispatch
