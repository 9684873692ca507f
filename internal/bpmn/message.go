package bpmn

import (
	"context"

	"github.com/roach88/incidentd/internal/pkg/ctxlog"
	"github.com/roach88/incidentd/internal/processing"
	"github.com/roach88/incidentd/internal/protocol"
)

// publishMessage handles MESSAGE PUBLISH. The message correlates to every
// catch event of this partition that waits for its name and correlation
// key; it is not buffered for subscriptions opened later.
func (e *Engine) publishMessage(ctx context.Context, cmd protocol.Record, w *processing.Writers) error {
	msg, ok := cmd.Value.(protocol.MessageRecord)
	if !ok {
		return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected a message value, but got %s", cmd.ValueType)
	}
	if msg.Name == "" {
		return processing.NewRejection(protocol.RejectionInvalidArgument, "Expected message to have a name, but it was empty")
	}

	messageKey := e.state.NextKey()
	if _, err := w.AppendEvent(messageKey, protocol.MessagePublished, msg); err != nil {
		return err
	}

	for _, sub := range e.state.MatchingSubscriptions(msg.Name, msg.CorrelationKey) {
		el, ok := e.state.ElementInstance(sub.Value.ElementInstanceKey)
		if !ok || el.State != protocol.ElementActivated {
			continue
		}
		t, err := e.tokenFor(el.Key, el.Value)
		if err != nil {
			return err
		}

		correlated := sub.Value
		correlated.MessageKey = messageKey
		correlated.Variables = msg.Variables
		if _, err := w.AppendEvent(sub.Key, protocol.MessageSubscriptionCorrelated, correlated); err != nil {
			return err
		}
		ctxlog.FromContext(ctx).Debug("message correlated", "message", msg.Name, "element_instance", el.Key)

		if err := e.handOver(w, t, msg.Variables); err != nil {
			return err
		}
		if err := e.complete(ctx, w, t, t.outgoing()); err != nil {
			return err
		}
	}
	return nil
}
