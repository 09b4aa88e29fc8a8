// Package sse streams run progress to HTTP clients as Server-Sent Events.
//
// Hub fans events out to connected clients by glob pattern over client IDs.
// RunObserver plugs the hub into the orchestrator so every persisted outcome
// and every finalized run is pushed to clients watching that run. Stream
// writes the text/event-stream framing, keep-alives included.
//
//	hub := sse.NewHub(log)
//	orch, _ := orchestrator.New(store, nil, cfg, orchestrator.WithObserver(sse.NewRunObserver(hub)))
package sse
