// Package delivery implements the dispatch pass: it claims due messages,
// renders them with tracking and signature, hands them to the mail
// transport and records the outcome.
//
// A message is claimed with a single conditional update at the store, so
// any number of dispatchers may run against the same queue. Every
// per-message failure is recorded on that message and the pass moves on;
// only a failure to load the batch aborts the pass.
package delivery
