// Package workflow defines workflow definitions, their job dependency
// graph and workflow runs.
//
// A workflow is a set of jobs joined by edges "job depends on parent job".
// Triggering a workflow creates a [Run] plus one job run per job; a job run
// becomes eligible once every parent job run in the same workflow run has
// succeeded.
//
// Definitions move DRAFT → ONLINE → OFFLINE and may go back ONLINE. Only
// ONLINE workflows are fired by their cron or fixed-rate trigger; MANUAL
// and API triggers ignore the status.
package workflow
