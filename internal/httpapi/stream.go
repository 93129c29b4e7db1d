package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Stream delivers mission activity over Server-Sent Events. Each subscriber
// only receives events for children they hold an active grant on.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if a.stream == nil {
		http.Error(w, "streaming disabled", http.StatusServiceUnavailable)
		return
	}
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.stream.Subscribe(ctx)

	fmt.Fprint(w, ": stream started\n\n")
	flusher.Flush()

	for event := range ch {
		visible, err := a.ledger.HasActiveGrant(ctx, event.ChildID, actor.UserID)
		if err != nil || !visible {
			continue
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
		flusher.Flush()
	}
}
