// Package devserver is a mock game backend for local development and
// integration tests. It issues in-memory sessions over the auth endpoints
// the client expects and accepts authenticated WebSocket connections.
//
// Two echo instances are served: the API (auth, health, version) on
// DEV_SERVER_ADDR and the game socket on DEV_WS_ADDR.
package devserver
