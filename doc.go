// Package jobq provides a persistent, at-least-once job queue for Go with
// delayed and recurring jobs, priorities, bounded concurrency, rate
// limiting, retries with backoff and stall recovery.
//
// jobq is a library, not a service. Import it, configure a store, and
// register handlers as ordinary Go functions.
//
// # Quick Start
//
//	d, err := jobq.New(
//	    jobq.WithStore(redisStore),
//	    jobq.WithConcurrency(20),
//	    jobq.WithLimiter(100, time.Second),
//	)
//	eng, err := engine.Build(d)
//	engine.Register(eng, job.NewDefinition("email.send", sendEmail))
//	_, err = engine.Submit(ctx, eng, "email.send", EmailInput{To: "a@b.c"},
//	    job.WithAttempts(3), job.WithBackoff(backoff.ExponentialPolicy(2*time.Second)))
//
// # Architecture
//
// A job moves through waiting, delayed, active, completed, failed and
// stalled. Every transition is an atomic store operation guarded by the
// owner token handed out at claim time, so a job is never run by two
// slots at once and late results from a reclaimed job are discarded.
//
// Backends live under store/: memory, redis, postgres and mongo.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package jobq
