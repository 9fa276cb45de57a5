// Package queue tracks triage requests from arrival to completion and
// bounds how many are processed at once.
//
// Requests are admitted in arrival order whenever a slot is free.
// Admission is driven by state changes (enqueue, complete, fail); callers
// block on Wait until their request is admitted, evicted or their context
// ends. A Queue is an explicit value: construct one per process and pass
// it to the components that need it.
package queue
