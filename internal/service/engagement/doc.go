// Package engagement records what recipients do with sent messages: opens
// and clicks reported by the tracking endpoints, and replies found by the
// follow-up scheduler.
//
// Each recorded interaction updates the lead's history, bumps the matching
// campaign counter, appends an analytics event and forwards it to the
// configured event publisher. A click on a campaign with stop-on-click set
// also cancels the lead's pending messages.
package engagement
