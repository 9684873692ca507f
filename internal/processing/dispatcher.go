package processing

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/incidentd/internal/protocol"
)

// Handler processes one command. It writes follow-up records through w and
// returns a *RejectionError to reject the command.
type Handler interface {
	Handle(ctx context.Context, cmd protocol.Record, w *Writers) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd protocol.Record, w *Writers) error

func (f HandlerFunc) Handle(ctx context.Context, cmd protocol.Record, w *Writers) error {
	return f(ctx, cmd, w)
}

// Route identifies the commands a handler accepts.
type Route struct {
	ValueType protocol.ValueType
	Intent    protocol.Intent
}

func (r Route) String() string {
	return fmt.Sprintf("%s.%s", r.ValueType, r.Intent)
}

// Dispatcher maps routes to handlers. It is built once when a partition
// starts and is read-only afterwards.
type Dispatcher struct {
	handlers map[Route]Handler
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Route]Handler)}
}

// Register adds a handler. Registering a route twice is a configuration
// error.
func (d *Dispatcher) Register(vt protocol.ValueType, intent protocol.Intent, h Handler) error {
	route := Route{ValueType: vt, Intent: intent}
	if _, exists := d.handlers[route]; exists {
		return fmt.Errorf("route %s registered twice", route)
	}
	d.handlers[route] = h
	return nil
}

// RegisterFunc is Register for plain functions.
func (d *Dispatcher) RegisterFunc(vt protocol.ValueType, intent protocol.Intent, f HandlerFunc) error {
	return d.Register(vt, intent, f)
}

// Lookup returns the handler for a route.
func (d *Dispatcher) Lookup(vt protocol.ValueType, intent protocol.Intent) (Handler, bool) {
	h, ok := d.handlers[Route{ValueType: vt, Intent: intent}]
	return h, ok
}

// Routes lists the registered routes in a stable order.
func (d *Dispatcher) Routes() []Route {
	routes := make([]Route, 0, len(d.handlers))
	for r := range d.handlers {
		routes = append(routes, r)
	}
	slices.SortFunc(routes, func(a, b Route) int {
		return cmp.Or(cmp.Compare(a.ValueType, b.ValueType), cmp.Compare(a.Intent, b.Intent))
	})
	return routes
}
