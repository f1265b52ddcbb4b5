// Package s4u is the per-conversation reply scheduler.
//
// Each chat (a Twitch channel, a NATS subject, an HTTP caller) gets one
// Session. A Session owns:
//   - two priority queues (VIP and normal) ordered by priority score and then
//     admission sequence,
//   - an InterestTracker whose per-sender scores decay on every admission,
//   - a GiftAggregator that debounces repeated gifts into one message,
//   - a single active task slot, served by one scheduling goroutine.
//
// The active task streams chunks from a Generator and hands them to a
// TypingSender, which paces them to the outbound Transport. A newer message
// may interrupt a normal-tier task; VIP tasks always run to completion.
// Interrupted messages are discarded, never requeued, so the stream host
// answers the freshest chat rather than working through a backlog.
//
// Sessions are held by a Manager, which callers construct and inject.
package s4u
