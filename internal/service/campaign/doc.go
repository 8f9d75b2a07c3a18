// Package campaign implements the campaign lifecycle around the delivery
// queue: starting a campaign enqueues its initial messages, pausing and
// resuming park and release pending messages, deleting removes everything
// the campaign owns.
//
// Follow-ups are never enqueued here; the follow-up scheduler derives them
// from what was actually sent.
package campaign
