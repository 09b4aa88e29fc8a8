// Package component defines the lifecycle contract shared by fanoutd's
// infrastructure pieces (database, redis, reaper, HTTP server) and a
// Registry that starts them in order, stops them in reverse and aggregates
// their health.
package component
