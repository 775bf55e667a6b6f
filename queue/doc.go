// Package queue holds the scheduler's time-ordered trigger queue and the
// per-namespace dispatch throttle.
//
// [TriggerQueue] orders pending entries by trigger time, then priority
// (higher first), then run id, so two nodes holding the same entries pop
// them in the same order. It is not safe for concurrent use; the
// scheduling actor owns it exclusively.
//
// [Throttle] limits dispatch rate and concurrency per namespace using a
// token bucket:
//
//	t := queue.NewThrottle(queue.Config{
//	    Namespace:      "etl",
//	    MaxConcurrency: 10,
//	    RateLimit:      5,  // 5 dispatches/sec
//	    RateBurst:      10,
//	})
//
// Namespaces without configuration are unlimited.
package queue
