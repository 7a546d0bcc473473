// Package job defines the job entity, state machine, typed definitions,
// the error contract for handlers and the store interface.
//
// # Job Entity
//
// A [Job] represents a unit of work. It embeds [jobq.Entity] for
// timestamps, carries a JSON payload, and progresses through a state
// machine:
//
//	delayed → waiting → active → completed
//	active → delayed → waiting → active      (retry with backoff)
//	active → waiting                         (retry without delay)
//	active → failed                          (terminal error, attempts exhausted)
//	active → stalled → waiting               (missed heartbeats)
//	active → failed                          (stall limit exceeded)
//	failed → waiting                         (manual retry)
//
// Fields of note:
//   - Queue: which queue the job belongs to (default: "default")
//   - Priority: higher values are claimed first, then earlier ReadyAt
//   - MaxAttempts / AttemptsMade: the attempt budget
//   - ReadyAt: earliest time the job may be claimed
//   - Repeat: recurrence rule; each occurrence is its own Job
//   - Timeout: per-attempt execution deadline (zero = unlimited)
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-decoded before
// the handler runs and the result is JSON-encoded:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, in EmailInput) (EmailResult, error) {
//	        if in.To == "" {
//	            return EmailResult{}, job.Terminal(errors.New("no recipient"))
//	        }
//	        _ = job.ReportProgress(ctx, 50)
//	        return mailer.Send(ctx, in)
//	    },
//	    job.WithAttempts(3),
//	)
//
// Returning an error retries the job while attempts remain. Wrapping it
// with [Terminal] fails the job at once.
package job
