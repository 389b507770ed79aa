// Package event implements the change-data-capture hook of spec §4.8:
// synchronous dispatch to local listeners plus a best-effort HTTP POST
// fan-out to configured targets. Emission failures never propagate to
// the mutation that triggered them.
package event

import (
	"github.com/go-resty/resty/v2"

	"github.com/mikrodb/mikrodb/internal/mlog"
	"github.com/mikrodb/mikrodb/internal/types"
)

// Name enumerates the events the core emits.
type Name string

const (
	ItemWritten  Name = "item.written"
	ItemDeleted  Name = "item.deleted"
	ItemExpired  Name = "item.expired"
	TableDeleted Name = "table.deleted"
)

// Event carries the payload described in spec §4.8:
// {operation, table, key?, record?}.
type Event struct {
	Operation Name
	Table     string
	Key       string
	Record    *types.Record
}

// Listener receives events dispatched synchronously on the same
// goroutine that committed the mutation.
type Listener func(Event)

// Hub fans an Event out to local listeners and HTTP targets.
type Hub struct {
	log       *mlog.Logger
	listeners []Listener
	targets   []string
	client    *resty.Client
}

// New creates a hub posting to the given HTTP target URLs (may be
// empty).
func New(log *mlog.Logger, targets []string) *Hub {
	return &Hub{
		log:     log.With("event"),
		targets: targets,
		client:  resty.New().SetTimeout(0),
	}
}

// Subscribe registers a local listener, invoked synchronously.
func (h *Hub) Subscribe(l Listener) {
	h.listeners = append(h.listeners, l)
}

// Emit dispatches e to every local listener, then fires a best-effort
// POST to every configured target in the background. Neither path can
// fail the caller.
func (h *Hub) Emit(e Event) {
	for _, l := range h.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.log.Warn("listener panic on %s: %v", e.Operation, r)
				}
			}()
			l(e)
		}()
	}

	for _, target := range h.targets {
		target := target
		go h.post(target, e)
	}
}

func (h *Hub) post(target string, e Event) {
	body := map[string]interface{}{
		"operation": string(e.Operation),
		"table":     e.Table,
	}
	if e.Key != "" {
		body["key"] = e.Key
	}
	if e.Record != nil {
		body["record"] = map[string]interface{}{
			"value":      e.Record.Value.Native(),
			"version":    e.Record.Version,
			"timestamp":  e.Record.Timestamp,
			"expiration": e.Record.Expiration,
		}
	}

	resp, err := h.client.R().SetBody(body).Post(target)
	if err != nil {
		h.log.Warn("event post to %s failed: %v", target, err)
		return
	}
	if resp.IsError() {
		h.log.Warn("event post to %s returned %s", target, resp.Status())
	}
}
