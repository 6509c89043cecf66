// Package livenative is a client for server-rendered live views. A Session
// holds the rendered tree pushed by the server, merges every diff onto it,
// renders the result to markup and patches its document tree with it.
package livenative

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/livefir/livenative/internal/dom"
	"github.com/livefir/livenative/internal/metrics"
	"github.com/livefir/livenative/internal/tree"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultContainerID is the id of the element the rendered view is mounted
// in unless WithContainerID says otherwise.
const DefaultContainerID = "phx-main"

// ErrNotJoined is returned by Apply before the first Join and after a
// failure discarded the session state.
var ErrNotJoined = errors.New("session is not joined")

// Config holds session configuration options
type Config struct {
	ContainerID string
	Minify      bool
	Logger      *slog.Logger
	Metrics     *metrics.Collector
}

// Option is a functional option for configuring a Session
type Option func(*Config)

// WithContainerID sets the id of the container element
func WithContainerID(id string) Option {
	return func(c *Config) {
		c.ContainerID = id
	}
}

// WithMinify minifies rendered markup before it is parsed
func WithMinify(enabled bool) Option {
	return func(c *Config) {
		c.Minify = enabled
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics shares a metrics collector between sessions
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Config) {
		c.Metrics = collector
	}
}

// Update is the result of applying one payload.
type Update struct {
	// Markup is the whole document after the update.
	Markup string

	// Document is a copy of the document tree after the update.
	Document *html.Node

	// DroppedComponents lists component ids that are no longer referenced
	// and were removed from the component table.
	DroppedComponents []int

	Title  string
	Events json.RawMessage
	Reply  json.RawMessage
}

// Session owns the rendered tree, the component table and the document of
// one live view. All methods are safe for concurrent use; payloads are
// applied one at a time in call order.
type Session struct {
	mu     sync.Mutex
	config Config

	joined   bool
	rendered *tree.Rendered
	document *html.Node
	markup   string
}

// New creates a session that is not joined yet.
func New(opts ...Option) *Session {
	config := Config{
		ContainerID: DefaultContainerID,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewCollector()
	}
	return &Session{config: config}
}

// Join seeds the session from a full rendered payload, replacing any state
// held before.
func (s *Session) Join(payload []byte) (*Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.joined {
		s.discardLocked("rejoin")
	}

	p, err := tree.Decode(payload)
	if err != nil {
		s.config.Metrics.IncrementDecodeError()
		return nil, fmt.Errorf("join: %w", err)
	}
	rendered, err := tree.Merge(nil, p)
	if err != nil {
		s.config.Metrics.IncrementDecodeError()
		return nil, fmt.Errorf("join: %w", err)
	}
	inner, err := s.renderLocked(rendered)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}

	doc := &html.Node{Type: html.DocumentNode}
	container := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Div,
		Data:     "div",
		Attr: []html.Attribute{
			{Key: dom.AttrID, Val: s.config.ContainerID},
			{Key: dom.AttrMain, Val: "true"},
		},
	}
	doc.AppendChild(container)
	for c := inner.FirstChild; c != nil; {
		next := c.NextSibling
		inner.RemoveChild(c)
		container.AppendChild(c)
		c = next
	}

	markup, err := dom.Render(doc)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}

	s.joined = true
	s.rendered = rendered
	s.document = doc
	s.markup = markup
	s.config.Metrics.IncrementJoin(len(payload))
	s.config.Metrics.UpdateMarkupSize(len(markup))
	s.config.Logger.Debug("session joined",
		"container", s.config.ContainerID,
		"components", len(rendered.Components),
		"bytes", len(payload))

	return &Update{
		Markup:   markup,
		Document: dom.Clone(doc),
		Title:    rendered.Title,
		Events:   p.Events,
		Reply:    p.Reply,
	}, nil
}

// Apply merges one diff onto the session, re-renders and patches the
// document. Any error leaves the session unjoined: the state is assumed
// corrupted and must be reseeded with Join.
func (s *Session) Apply(diff []byte) (*Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.joined {
		return nil, ErrNotJoined
	}

	update, err := s.applyLocked(diff)
	if err != nil {
		s.discardLocked(err.Error())
		return nil, fmt.Errorf("apply diff: %w", err)
	}
	return update, nil
}

func (s *Session) applyLocked(diff []byte) (*Update, error) {
	p, err := tree.Decode(diff)
	if err != nil {
		s.config.Metrics.IncrementDecodeError()
		return nil, err
	}
	rendered, err := tree.Merge(s.rendered, p)
	if err != nil {
		s.config.Metrics.IncrementDecodeError()
		return nil, err
	}
	inner, err := s.renderLocked(rendered)
	if err != nil {
		return nil, err
	}

	doc, dropped, err := dom.Patch(s.config.ContainerID, s.document, inner)
	if err != nil {
		s.config.Metrics.IncrementPatchError()
		return nil, err
	}
	for strategy, n := range dom.Strategies(inner) {
		s.config.Metrics.AddCustomCounter("update_"+strategy, int64(n))
	}
	if len(dropped) > 0 {
		rendered = &tree.Rendered{
			Root:       rendered.Root,
			Components: rendered.Components.Drop(dropped),
			Title:      rendered.Title,
		}
		s.config.Metrics.AddComponentsDropped(len(dropped))
	}

	markup, err := dom.Render(doc)
	if err != nil {
		return nil, err
	}

	s.rendered = rendered
	s.document = doc
	s.markup = markup
	s.config.Metrics.IncrementDiffApplied(len(diff))
	s.config.Metrics.UpdateMarkupSize(len(markup))
	s.config.Logger.Debug("diff applied",
		"bytes", len(diff),
		"components", len(rendered.Components),
		"dropped", dropped)

	return &Update{
		Markup:            markup,
		Document:          dom.Clone(doc),
		DroppedComponents: dropped,
		Title:             rendered.Title,
		Events:            p.Events,
		Reply:             p.Reply,
	}, nil
}

// renderLocked renders the tree with component markers and parses it.
func (s *Session) renderLocked(rendered *tree.Rendered) (*html.Node, error) {
	r := &tree.Renderer{
		Components:  rendered.Components,
		OnComponent: func(cid int, markup string) (string, error) {
			return dom.StampComponent(markup, cid)
		},
	}
	markup, err := r.Render(rendered.Root)
	if err != nil {
		s.config.Metrics.IncrementRenderError()
		return nil, err
	}
	if s.config.Minify {
		markup, err = minifyHTML(markup)
		if err != nil {
			s.config.Metrics.IncrementRenderError()
			return nil, err
		}
	}
	doc, err := dom.Parse(markup)
	if err != nil {
		s.config.Metrics.IncrementRenderError()
		return nil, err
	}
	return doc, nil
}

// Reset discards all state. The session must be joined again before Apply.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		s.discardLocked("reset")
	}
}

func (s *Session) discardLocked(reason string) {
	s.joined = false
	s.rendered = nil
	s.document = nil
	s.markup = ""
	s.config.Metrics.IncrementReset()
	s.config.Logger.Info("session state discarded", "container", s.config.ContainerID, "reason", reason)
}

// Joined reports whether the session holds state.
func (s *Session) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// Document returns a copy of the current document tree, or nil.
func (s *Session) Document() *html.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dom.Clone(s.document)
}

// Markup returns the current document markup.
func (s *Session) Markup() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markup
}

// Rendered returns the current merged tree. It is never modified by the
// session and may be read without holding any lock.
func (s *Session) Rendered() *tree.Rendered {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered
}

// ContainerID returns the id of the container element.
func (s *Session) ContainerID() string {
	return s.config.ContainerID
}

// Metrics returns a snapshot of the session metrics.
func (s *Session) Metrics() metrics.SessionMetrics {
	return s.config.Metrics.GetMetrics()
}

// Counters returns the named counters, e.g. "update_append" for every
// append container patched.
func (s *Session) Counters() map[string]int64 {
	return s.config.Metrics.GetCustomCounters()
}
