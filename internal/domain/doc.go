// Package domain defines the core types for the outreach engine: campaigns,
// their follow-up sequences, queued messages, leads and analytics events.
//
// Nothing here touches storage or transport. Status fields are typed
// strings whose transitions are enforced by the services and stores; the
// methods on these types are pure helpers over their own fields.
package domain
