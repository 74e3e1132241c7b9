// Package bridge relays between the host's command queue and a single
// browser-extension peer connected over WebSocket.
//
// [Server] binds the listener and accepts upgrades on any path except
// /health. At most one peer is live at a time: a connection attempt that
// arrives while a peer is connected (or while another upgrade is in flight) is
// refused with 409 Conflict and never becomes a session.
//
// A session runs three goroutines under one connection-scoped context:
//
//   - the dispatcher drains the command queue and writes each command as a
//     JSON text frame, in queue order;
//   - the receive loop answers the text sentinel PING with PONG and forwards
//     every other JSON frame to the event channel as asbplayer_response;
//   - the pinger sends protocol-level pings and lets the read deadline drop
//     peers that stop answering.
//
// When any of them stops, the context is cancelled and the connection closed,
// so the others return. Only after all three have returned is
// asbplayer_disconnected emitted and the slot released. Commands left in the queue wait
// for the next peer.
package bridge
