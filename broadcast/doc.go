// Package broadcast defines the cluster-wide lifecycle events every node
// receives and the transport, codec and dedup contracts around them.
//
// Delivery is at-least-once with no ordering guarantee. Each [Event]
// carries a unique ID; the receiving actor records applied IDs in a
// [Dedup] set so a replayed event has no further effect. Run ids created
// by an event are derived from the event ID (see id.Derive), so every node
// computes the same ids without talking to the others.
//
// Payloads form a closed set. Adding one means adding a method to
// [Visitor], which breaks every visitor until it handles the new case.
package broadcast
