// Package api exposes the orchestrator over HTTP:
//
//	POST /api/v1/lookups       submit a lookup, 202 with {id, status}
//	GET  /api/v1/runs/:id      one run with its outcomes
//	GET  /api/v1/runs          runs newest first, ?owner_id=&page=&size=
//	GET  /api/v1/query-types   query types the source catalog knows
package api
