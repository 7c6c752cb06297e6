// Package scheduler registers schedule entries and computes trigger times.
//
// The service is trigger-only: every fire calls the entry's RunFunc, which
// belongs to internal/runner (subprocess) or a built-in job. Failures are
// recorded in the history ring and the schedule keeps firing.
package scheduler
