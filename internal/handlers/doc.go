// Package handlers provides the request handlers the server command
// installs on top of the engine: the JSON API adapter, the static file
// handler for the document root, the admin sub-router and the handlers for
// inbound WebSocket messages.
package handlers
