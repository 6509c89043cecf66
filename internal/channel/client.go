package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned once the connection is gone and every queued
	// message has been delivered.
	ErrClosed = errors.New("channel connection closed")

	// ErrHeartbeatTimeout is reported when a heartbeat is still unanswered
	// when the next one is due.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)

const writeTimeout = 10 * time.Second

// Options configures Dial.
type Options struct {
	// Header is sent with the websocket handshake, e.g. the page cookie.
	Header http.Header

	// Heartbeat is the heartbeat interval. Zero disables heartbeats.
	Heartbeat time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is one socket connection. Messages for joined topics are delivered
// by Next in the order the server sent them.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextRef  uint64
	pending  map[string]chan Message
	joinRefs map[string]string
	hbRef    string

	queue *queue
	done  chan struct{}
	err   error

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial opens the websocket connection and starts reading.
func Dial(ctx context.Context, socketURL string, opts Options) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, resp, err := dialer.DialContext(ctx, socketURL, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", socketURL, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", socketURL, err)
	}
	logger.Debug("socket connected", "url", socketURL)

	c := &Client{
		conn:     conn,
		logger:   logger,
		pending:  make(map[string]chan Message),
		joinRefs: make(map[string]string),
		queue:    newQueue(),
		done:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()
	if opts.Heartbeat > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop(opts.Heartbeat)
	}
	return c, nil
}

// Join joins topic with params and returns the response of the ok reply.
// For a live view the response carries the rendered tree under "rendered".
func (c *Client) Join(ctx context.Context, topic string, params any) (json.RawMessage, error) {
	ref := c.makeRef()
	c.mu.Lock()
	c.joinRefs[topic] = ref
	c.mu.Unlock()

	reply, err := c.request(ctx, Message{JoinRef: ref, Ref: ref, Topic: topic, Event: EventJoin}, params)
	if err != nil {
		c.mu.Lock()
		delete(c.joinRefs, topic)
		c.mu.Unlock()
		return nil, err
	}
	c.logger.Info("joined channel", "topic", topic)
	return reply, nil
}

// Leave leaves topic.
func (c *Client) Leave(ctx context.Context, topic string) error {
	_, err := c.Push(ctx, topic, EventLeave, struct{}{})
	c.mu.Lock()
	delete(c.joinRefs, topic)
	c.mu.Unlock()
	return err
}

// Push sends event on a joined topic and waits for the reply. The reply is
// also delivered through Next so diffs it carries are applied in order.
func (c *Client) Push(ctx context.Context, topic, event string, payload any) (json.RawMessage, error) {
	c.mu.Lock()
	joinRef, ok := c.joinRefs[topic]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("push %s: topic %q is not joined", event, topic)
	}
	return c.request(ctx, Message{JoinRef: joinRef, Ref: c.makeRef(), Topic: topic, Event: event}, payload)
}

// Next returns the next message pushed on a joined topic.
func (c *Client) Next(ctx context.Context) (Message, error) {
	return c.queue.pop(ctx, c.done, c.closedErr)
}

// Close closes the connection and waits for the background loops to stop.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()

	c.shutdown(ErrClosed)
	c.wg.Wait()
	return nil
}

// Err returns the error that ended the connection, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
		return nil
	}
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) makeRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextRef++
	return strconv.FormatUint(c.nextRef, 10)
}

func (c *Client) request(ctx context.Context, msg Message, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Event, err)
	}
	msg.Payload = body

	wait := make(chan Message, 1)
	c.mu.Lock()
	c.pending[msg.Ref] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-wait:
		return replyResponse(msg, reply)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// The reply may have been read just before the socket closed.
		select {
		case reply := <-wait:
			return replyResponse(msg, reply)
		default:
			return nil, c.closedErr()
		}
	}
}

func replyResponse(req, reply Message) (json.RawMessage, error) {
	r, err := ParseReply(reply)
	if err != nil {
		return nil, err
	}
	if r.Status != "ok" {
		return nil, &ReplyError{Topic: req.Topic, Event: req.Event, Status: r.Status, Response: r.Response}
	}
	return r.Response, nil
}

func (c *Client) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s %s: %w", msg.Topic, msg.Event, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warn("socket read failed", "error", err)
				}
				c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed message", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	if msg.Topic == TopicPhoenix {
		c.mu.Lock()
		if msg.Ref == c.hbRef {
			c.hbRef = ""
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	wait, waiting := c.pending[msg.Ref]
	joinRef, joined := c.joinRefs[msg.Topic]
	c.mu.Unlock()

	if msg.Event == EventReply && waiting {
		select {
		case wait <- msg:
		default:
		}
		// Join replies are returned by Join only.
		if msg.Ref == msg.JoinRef {
			return
		}
	}
	if !joined || (msg.JoinRef != "" && msg.JoinRef != joinRef) {
		c.logger.Debug("dropping message for stale topic", "topic", msg.Topic, "event", msg.Event)
		return
	}
	c.queue.push(msg)
}

func (c *Client) heartbeatLoop(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		outstanding := c.hbRef != ""
		c.mu.Unlock()
		if outstanding {
			c.logger.Warn("heartbeat timeout, closing socket")
			c.shutdown(ErrHeartbeatTimeout)
			return
		}

		ref := c.makeRef()
		c.mu.Lock()
		c.hbRef = ref
		c.mu.Unlock()
		if err := c.send(Message{Ref: ref, Topic: TopicPhoenix, Event: EventHeartbeat}); err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
	}
}

// queue is an unbounded FIFO so the read loop never blocks on a slow
// consumer.
type queue struct {
	mu    sync.Mutex
	items []Message
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(msg Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) pop(ctx context.Context, done <-chan struct{}, closedErr func() error) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-done:
			q.mu.Lock()
			empty := len(q.items) == 0
			q.mu.Unlock()
			if empty {
				return Message{}, closedErr()
			}
		}
	}
}
