// Package cron parses and evaluates the recurrence rules of repeating jobs.
//
// A [Rule] is either a cron pattern or a fixed interval:
//   - Pattern: five-field cron ("0 9 * * 1-5"), six-field cron with a
//     leading seconds field ("*/10 * * * * *"), or a descriptor such as
//     "@hourly" or "@every 30s"
//   - Every: a fixed interval between fire times
//   - TZ: IANA location the pattern is evaluated in (default UTC)
//   - Limit: maximum number of occurrences
//   - StartDate / EndDate: bounds on fire times
//
// Rules are validated when a job is submitted. A rule that fails to parse
// never reaches a store.
package cron
