// Package engine wires all jobq subsystems together and provides the
// primary application-level API for registering handlers and submitting
// jobs.
//
// # Building an Engine
//
//	d, err := jobq.New(
//	    jobq.WithStore(redisStore),
//	    jobq.WithConcurrency(20),
//	    jobq.WithLimiter(100, time.Second),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithQueueConfig(queue.Config{
//	        Name:           "emails",
//	        RateLimit:      50,
//	        MaxConcurrency: 5,
//	    }),
//	)
//
// # Registering Handlers
//
//	engine.Register(eng, job.NewDefinition("email.send",
//	    func(ctx context.Context, in EmailInput) (EmailResult, error) { ... },
//	    job.WithAttempts(3),
//	))
//
// # Submitting Jobs
//
//	engine.Submit(ctx, eng, "email.send", EmailInput{To: "user@example.com"})
//
//	// With options
//	engine.Submit(ctx, eng, "email.send", in,
//	    job.WithDelay(5*time.Minute),
//	    job.WithPriority(10),
//	    job.WithBackoff(backoff.ExponentialPolicy(2*time.Second)),
//	)
//
//	// Recurring
//	engine.Submit(ctx, eng, "report.daily", in,
//	    job.WithRepeat(cron.Rule{Pattern: "0 9 * * *", TZ: "Europe/Berlin"}),
//	)
//
// # Watching Jobs
//
// Every lifecycle event is published on the broker returned by
// [Engine.Events]:
//
//	sub := eng.Events().Subscribe("ui", stream.JobTopic(j.ID.String()))
//	for evt := range sub.C() { ... }
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithQueueConfig]: configure per-queue rate limits and concurrency
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
