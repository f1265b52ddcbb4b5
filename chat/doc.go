// Package chat connects the scheduler to Twitch chat over IRC.
//
// It provides two halves:
//   - ingestion: PRIVMSG and USERNOTICE messages are mapped to s4u events
//     (plain text, bits cheers as superchats, gifted subs as gifts) and
//     handed to a Sink, normally the session manager.
//   - delivery: Relay.Send implements s4u.Transport by saying each reply
//     chunk in the channel the event came from.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes (TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN).
// Supervise keeps the connection up across disconnects.
package chat
