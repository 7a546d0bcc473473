// Package queue gates claims with per-queue concurrency caps, per-queue
// token buckets and a global rolling-window rate limit.
//
// Queues are named channels that group related jobs. Jobs carry a Queue field
// that determines which queue they belong to. The dispatcher claims from the
// queues listed in [jobq.Config.Queues] (default: ["default"]).
//
// # Per-Queue Configuration
//
// Use [Config] to set per-queue rate limits and concurrency caps:
//
//	queue.Config{
//	    Name:           "email",
//	    MaxConcurrency: 5,      // max 5 concurrent email jobs
//	    RateLimit:      10,     // max 10 claims/s from this queue
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// # Global Window
//
// [WithWindow] caps claims across every queue at max per rolling duration.
// Unlike a token bucket it never admits more than max claims in any span of
// that length, which is the contract of jobq.Config.Limiter.
//
// # Manager
//
// A claim first takes a [Permit]. When the store has nothing to hand out
// the permit is cancelled and the budget returned, so idle polling never
// consumes rate:
//
//	p, wait := m.Acquire(queueName)
//	if p == nil {
//	    sleep(wait)
//	}
//	j, _ := store.ClaimJob(ctx, queueName, claim)
//	if j == nil {
//	    p.Cancel()
//	} else {
//	    defer p.Release()
//	}
package queue
