// Package channel is a client for the Phoenix channel protocol with the v2
// JSON serializer, the transport live views push their rendered trees over.
package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Serializer version requested from the socket endpoint.
const Vsn = "2.0.0"

// Reserved topics and events.
const (
	TopicPhoenix = "phoenix"

	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventClose     = "phx_close"
	EventError     = "phx_error"
	EventHeartbeat = "heartbeat"
	EventDiff      = "diff"
	EventEvent     = "event"
)

// Message is one channel frame. Empty JoinRef and Ref are sent as null.
type Message struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// MarshalJSON encodes the message as [join_ref, ref, topic, event, payload].
func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return json.Marshal([]any{nullable(m.JoinRef), nullable(m.Ref), m.Topic, m.Event, payload})
}

// UnmarshalJSON decodes the v2 array form.
func (m *Message) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if len(parts) != 5 {
		return fmt.Errorf("decode message: expected 5 elements, got %d", len(parts))
	}

	var joinRef, ref *string
	if err := json.Unmarshal(parts[0], &joinRef); err != nil {
		return fmt.Errorf("decode message join_ref: %w", err)
	}
	if err := json.Unmarshal(parts[1], &ref); err != nil {
		return fmt.Errorf("decode message ref: %w", err)
	}
	var topic, event string
	if err := json.Unmarshal(parts[2], &topic); err != nil {
		return fmt.Errorf("decode message topic: %w", err)
	}
	if err := json.Unmarshal(parts[3], &event); err != nil {
		return fmt.Errorf("decode message event: %w", err)
	}

	*m = Message{Topic: topic, Event: event, Payload: parts[4]}
	if joinRef != nil {
		m.JoinRef = *joinRef
	}
	if ref != nil {
		m.Ref = *ref
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Reply is the payload of a phx_reply message.
type Reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// ParseReply decodes the payload of a phx_reply message.
func ParseReply(msg Message) (Reply, error) {
	var r Reply
	if msg.Event != EventReply {
		return r, fmt.Errorf("message %q is not a reply", msg.Event)
	}
	if err := json.Unmarshal(msg.Payload, &r); err != nil {
		return r, fmt.Errorf("decode reply: %w", err)
	}
	return r, nil
}

// ReplyError is returned when the server answers a push with a non-ok
// status.
type ReplyError struct {
	Topic    string
	Event    string
	Status   string
	Response json.RawMessage
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("%s %s: %s reply: %s", e.Topic, e.Event, e.Status, bytes.TrimSpace(e.Response))
}

// DiffPayload returns the rendered diff carried by msg, if any. Diffs arrive
// either as "diff" events or inside the response of a successful reply.
func DiffPayload(msg Message) (json.RawMessage, bool) {
	switch msg.Event {
	case EventDiff:
		return msg.Payload, len(msg.Payload) > 0
	case EventReply:
		r, err := ParseReply(msg)
		if err != nil || r.Status != "ok" || len(r.Response) == 0 {
			return nil, false
		}
		var resp struct {
			Diff json.RawMessage `json:"diff"`
		}
		if err := json.Unmarshal(r.Response, &resp); err != nil || len(resp.Diff) == 0 {
			return nil, false
		}
		return resp.Diff, true
	}
	return nil, false
}

// SocketURL turns the page URL into the websocket endpoint URL: the scheme
// switches to ws or wss, the path becomes socketPath and vsn is added to the
// query along with params.
func SocketURL(pageURL, socketPath string, params url.Values) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	q := url.Values{}
	for k, vs := range params {
		q[k] = append([]string(nil), vs...)
	}
	q.Set("vsn", Vsn)

	u.Path = socketPath
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}
