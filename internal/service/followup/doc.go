// Package followup implements the scheduling pass that derives each lead's
// next message from the outcome of the previous one.
//
// Rules enforced by this package:
//   - A lead that replied (with stop-on-reply) or clicked (with
//     stop-on-click) gets no further follow-ups.
//   - A reply found on the lead's last sent message is recorded once and
//     the lead is left alone for the rest of the pass.
//   - Follow-up N is enqueued at most once per campaign and recipient.
//   - Follow-up N is due its wait duration after the previous message was
//     sent.
package followup
