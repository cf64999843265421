// Package session implements the real-time session core of the WaveMeet
// server: connection registry, presence tracking, conversation rooms,
// message dispatch, typing indicators, and call signaling. The transport
// layer feeds it authenticated connections and inbound events; durable
// storage, push notification, and call history are collaborator
// interfaces injected at construction.
package session
