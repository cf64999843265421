// Package server is the WebSocket gateway of the WaveMeet service: it
// authenticates handshakes, upgrades connections, runs the per-client
// read/write pumps, and translates wire events into session core
// operations.
package server
