// Package ext defines the extension system for jobq.
//
// Extensions are notified of job lifecycle events and can react to them:
// recording metrics, relaying events to other processes, feeding live
// dashboards. Each lifecycle hook is a separate interface so extensions
// opt in only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobAdded]: a submitted job was persisted
//   - [JobWaiting]: a job became eligible for claiming
//   - [JobDelayed]: a job was parked until its ReadyAt
//   - [JobActive]: a slot claimed the job
//   - [JobProgress]: the handler reported progress
//   - [JobCompleted]: the handler succeeded
//   - [JobFailed]: the job failed permanently
//   - [JobRetrying]: a failed attempt was rescheduled
//   - [JobStalled]: the owner stopped heartbeating
//   - [JobRemoved]: a producer deleted the job
//
// # Other Hooks
//
//   - [RepeatScheduled]: the next occurrence of a repeating job was enqueued
//   - [Shutdown]: the dispatcher is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never affect job execution.
package ext
