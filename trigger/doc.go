// Package trigger fires the timed triggers of ONLINE workflows.
//
// A node only fires workflows whose bucket it owns. The scheduler learns
// ownership as a bucket.Listener and ONLINE/OFFLINE changes as a
// scheduler.WorkflowListener, and loads the ONLINE workflows of a bucket
// from the catalog when the bucket is acquired.
//
// # Schedules
//
// A workflow's TriggerType selects the schedule:
//   - CRON: TriggerValue is a 5-field cron expression or a descriptor
//     such as "@hourly".
//   - FIXED_RATE: TriggerValue is a Go duration. Fire times are aligned
//     to multiples of the duration since the Unix epoch.
//   - MANUAL: never fired here.
//
// # Event ids
//
// Every fire publishes under the id "cron:<workflowID>:<unix seconds>".
// When two nodes fire the same slot during a bucket handoff, the second
// TRIGGER is dropped by broadcast dedup and both derive the same runs.
package trigger
