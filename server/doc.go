// Package server provides the HTTP server: Gin behind a net/http middleware
// chain (request ID, recovery, CORS, body limit, request log), served over
// HTTP/1.1 and h2c, with health, info and metrics endpoints and a
// component.Component wrapper for lifecycle management.
package server
