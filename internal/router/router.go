// Package router implements the Router (§4.D): the single entry point
// that resolves a target window, dispatches a command frame to it, and
// waits for the correlated reply.
package router

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tabbroker/tabbroker/internal/correlator"
	"github.com/tabbroker/tabbroker/internal/hub"
	"github.com/tabbroker/tabbroker/internal/logging"
	"github.com/tabbroker/tabbroker/internal/wsproto"
)

// Router resolves a target window for a command, dispatches it to that
// window's page connection, and returns the correlated reply.
type Router struct {
	hub            *hub.Hub
	log            *logging.Logger
	defaultTimeout time.Duration
}

// New creates a Router bound to hub.
func New(h *hub.Hub, log *logging.Logger, defaultTimeout time.Duration) *Router {
	return &Router{hub: h, log: log, defaultTimeout: defaultTimeout}
}

// Call implements the sequence in §4.D. explicitWindowID and
// sessionHeader are optional ("" means absent). timeout <= 0 uses the
// router's default.
func (r *Router) Call(channel, action string, payload json.RawMessage, timeout time.Duration, explicitWindowID, sessionHeader string) (*wsproto.Reply, error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	windowID, ok := r.hub.Windows.ResolveTarget(explicitWindowID, sessionHeader, r.hub.Affinity)
	if !ok {
		msg := "no windows connected"
		if explicitWindowID != "" {
			msg = "Window " + explicitWindowID + " not found"
		}
		return wsproto.NewErrorReply("", msg), nil
	}

	peer, ok := r.hub.TargetPeer(windowID)
	if !ok {
		return wsproto.NewErrorReply("", "Window "+windowID+" not found"), nil
	}

	correlationID, waiter := r.hub.Correlator.Issue(timeout)

	outboundPayload, err := injectWindowID(payload, windowID)
	if err != nil {
		r.hub.Correlator.Abort(correlationID, err)
		return nil, err
	}

	frame := &wsproto.Frame{
		ID:        correlationID,
		Channel:   channel,
		Action:    action,
		Payload:   outboundPayload,
		Timestamp: time.Now().UTC(),
		Source:    wsproto.SourceAgent,
	}

	if !peer.Send(frame) {
		r.hub.Correlator.Abort(correlationID, errSendBufferFull)
		return wsproto.NewErrorReply(correlationID, "page connection busy"), nil
	}

	select {
	case result := <-waiter.C:
		switch result.Outcome {
		case correlator.OutcomeReply:
			if sessionHeader != "" && explicitWindowID != "" {
				r.hub.Affinity.Set(sessionHeader, explicitWindowID)
			}
			return result.Reply, nil
		case correlator.OutcomeTimeout:
			return wsproto.NewErrorReply(correlationID, "Timeout"), nil
		default:
			msg := "transport error"
			if result.Err != nil {
				msg = result.Err.Error()
			}
			return wsproto.NewErrorReply(correlationID, msg), nil
		}
	case <-peer.Done():
		r.hub.Correlator.Abort(correlationID, errPeerDisconnected)
		return wsproto.NewErrorReply(correlationID, "page disconnected before reply"), nil
	}
}

func injectWindowID(payload json.RawMessage, windowID string) (json.RawMessage, error) {
	m := map[string]interface{}{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m); err != nil {
			// Non-object payloads are passed through untouched.
			return payload, nil
		}
	}
	if _, has := m["windowId"]; !has {
		m["windowId"] = windowID
	}
	return json.Marshal(m)
}

var (
	errSendBufferFull   = newRouterError("page connection send buffer full")
	errPeerDisconnected = newRouterError("page connection disconnected before reply")
)

type routerError string

func newRouterError(msg string) error { return routerError(msg) }

func (e routerError) Error() string { return string(e) }

// CorrelationID returns a fresh id from the same uuid space the
// Correlator issues ids from.
func CorrelationID() string { return uuid.NewString() }
