// Package api exposes a jobq Engine over HTTP.
//
// Routes, all JSON:
//
//	POST   /v1/jobs              submit a job
//	GET    /v1/jobs?state=&queue= list jobs in one state
//	GET    /v1/jobs/{jobId}      fetch a job
//	DELETE /v1/jobs/{jobId}      remove a job
//	POST   /v1/jobs/{jobId}/retry retry a failed job
//	GET    /v1/stats?queue=      job counts per state
//	POST   /v1/cleanup           evict old finished jobs
//	GET    /v1/events?topic=&type= websocket feed of lifecycle events
//
// Errors are rendered as {"error": "...", "field": "..."} with a status
// derived from the jobq sentinel they wrap.
package api
