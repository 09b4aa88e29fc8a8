// Package source defines the unit of work a run fans out to.
//
// A Task is a named function returning a Result. Results are tagged values:
// OK carries an opaque JSON payload plus the normalized found/confidence
// fields, NotFound is a successful lookup with no match, and Err carries an
// error code and message. Tasks never return Go errors; FromFunc and Safe
// adapt error-returning and panicking code to that contract.
//
// HTTP builds a task that calls an upstream through the resilient client,
// and Catalog turns configured HTTP sources into tasks for a query type.
package source
