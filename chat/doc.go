// Package chat is the IRC alternative to EventSub chat delivery.
//
// It provides two entrypoints:
//   - Recorder: a go-twitch-irc client that turns PRIVMSG lines into
//     domain events and hands them to the interaction engine, exactly as the
//     channel.chat.message webhook does.
//   - AutoJoiner: polls the channel store and keeps the recorder joined to
//     every channel that is live with the bot enabled, departing the rest.
//
// Credentials: the IRC client requires the bot username and a user OAuth
// token with chat:read and chat:edit scopes (TWITCH_BOT_USERNAME,
// TWITCH_OAUTH_TOKEN). Replies still go out through Helix.
package chat
