package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livefir/livenative"
	"github.com/livefir/livenative/internal/channel"
	"github.com/livefir/livenative/internal/config"
	"github.com/livefir/livenative/internal/dom"
	"github.com/livefir/livenative/internal/metrics"
	"github.com/spf13/pflag"
)

const pageTimeout = 30 * time.Second

// runConnect loads the config, applies flag overrides and follows the live
// view until the connection ends.
func runConnect(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("connect", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: lvn connect [flags]")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "config file (default "+config.ConfigFileName+")")
	pageURL := fs.String("url", "", "page hosting the live view")
	container := fs.String("container", "", "id of the container element")
	minify := fs.Bool("minify", false, "minify rendered markup")
	showDiff := fs.Bool("diff", false, "print the markup change of every update")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if fs.Changed("url") {
		cfg.URL = *pageURL
	}
	if fs.Changed("container") {
		cfg.ContainerID = *container
	}
	if fs.Changed("minify") {
		cfg.Minify = *minify
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.URL == "" {
		return errors.New("no page url: set url in the config file or pass --url")
	}

	f := &follower{
		cfg:      cfg,
		out:      stdout,
		logger:   newLogger(stderr, cfg.LogLevel),
		showDiff: *showDiff,
		metrics:  metrics.NewCollector(),
	}
	return f.run(ctx)
}

// follower keeps one live view session in sync with the server.
type follower struct {
	cfg      *config.Config
	out      io.Writer
	logger   *slog.Logger
	showDiff bool
	metrics  *metrics.Collector

	client  *channel.Client
	session *livenative.Session
	topic   string
	join    joinParams
	markup  string
}

type joinParams struct {
	URL     string         `json:"url"`
	Params  map[string]any `json:"params"`
	Session string         `json:"session"`
	Static  string         `json:"static,omitempty"`
}

func (f *follower) run(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}

	view, token, err := f.fetchPage(ctx, jar)
	if err != nil {
		return err
	}

	params := url.Values{}
	for k, v := range f.cfg.Params {
		params.Set(k, v)
	}
	params.Set("_csrf_token", token)
	socketURL, err := channel.SocketURL(f.cfg.URL, f.cfg.SocketPath, params)
	if err != nil {
		return err
	}

	origin, err := originOf(f.cfg.URL)
	if err != nil {
		return err
	}
	dialer := *websocket.DefaultDialer
	dialer.Jar = jar
	client, err := channel.Dial(ctx, socketURL, channel.Options{
		Header:    http.Header{"Origin": []string{origin}},
		Heartbeat: f.cfg.Heartbeat,
		Dialer:    &dialer,
		Logger:    f.logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	f.client = client
	f.topic = "lv:" + view.ID
	f.join = joinParams{
		URL:     f.cfg.URL,
		Params:  map[string]any{"_csrf_token": token, "_mounts": 0},
		Session: view.Session,
		Static:  view.Static,
	}
	f.session = livenative.New(
		livenative.WithContainerID(f.cfg.ContainerID),
		livenative.WithMinify(f.cfg.Minify),
		livenative.WithLogger(f.logger),
		livenative.WithMetrics(f.metrics),
	)
	defer f.summarize()

	if err := f.rejoin(ctx); err != nil {
		return err
	}
	return f.follow(ctx)
}

// fetchPage loads the page and returns its main live view and CSRF token.
func (f *follower) fetchPage(ctx context.Context, jar http.CookieJar) (dom.LiveView, string, error) {
	ctx, cancel := context.WithTimeout(ctx, pageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return dom.LiveView{}, "", err
	}
	resp, err := (&http.Client{Jar: jar}).Do(req)
	if err != nil {
		return dom.LiveView{}, "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return dom.LiveView{}, "", fmt.Errorf("fetch page: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return dom.LiveView{}, "", fmt.Errorf("read page: %w", err)
	}
	doc, err := dom.Parse(string(body))
	if err != nil {
		return dom.LiveView{}, "", err
	}

	views := dom.FindLiveViews(doc)
	if len(views) == 0 {
		return dom.LiveView{}, "", fmt.Errorf("no live view found on %s", f.cfg.URL)
	}
	token, ok := dom.CSRFToken(doc)
	if !ok {
		f.logger.Warn("page has no csrf token", "url", f.cfg.URL)
	}
	f.logger.Debug("page loaded", "view", views[0].ID, "views", len(views))
	return views[0], token, nil
}

// rejoin joins the topic and seeds the session with the rendered tree.
func (f *follower) rejoin(ctx context.Context) error {
	resp, err := f.client.Join(ctx, f.topic, f.join)
	if err != nil {
		return fmt.Errorf("join %s: %w", f.topic, err)
	}
	var joined struct {
		Rendered json.RawMessage `json:"rendered"`
	}
	if err := json.Unmarshal(resp, &joined); err != nil || len(joined.Rendered) == 0 {
		return fmt.Errorf("join %s: reply has no rendered tree", f.topic)
	}

	update, err := f.session.Join(joined.Rendered)
	if err != nil {
		return err
	}
	f.print(update)
	return nil
}

// follow applies every diff in arrival order. A failed diff discards the
// session, which is then reseeded by joining again up to MaxRejoins times.
func (f *follower) follow(ctx context.Context) error {
	rejoins := 0
	for {
		msg, err := f.client.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, channel.ErrClosed) {
				f.logger.Info("connection ended", "reason", err)
				return nil
			}
			return err
		}

		switch msg.Event {
		case channel.EventClose:
			f.logger.Info("live view closed", "topic", msg.Topic)
			return nil
		case channel.EventError:
			err = fmt.Errorf("live view %s crashed", msg.Topic)
		default:
			diff, ok := channel.DiffPayload(msg)
			if !ok {
				f.logger.Debug("ignoring message", "event", msg.Event)
				continue
			}
			var update *livenative.Update
			if update, err = f.session.Apply(diff); err == nil {
				f.print(update)
				continue
			}
		}

		f.logger.Error("session failed", "topic", f.topic, "error", err)
		if rejoins >= f.cfg.MaxRejoins {
			return err
		}
		rejoins++
		f.metrics.IncrementCustomCounter("rejoin")
		f.session.Reset()
		if err := f.rejoin(ctx); err != nil {
			return err
		}
	}
}

// summarize logs what the session went through once the connection ends.
func (f *follower) summarize() {
	m := f.metrics.GetMetrics()
	counters := f.metrics.GetCustomCounters()
	f.logger.Info("session summary",
		"joins", m.Joins,
		"diffs_applied", m.DiffsApplied,
		"rejoins", counters["rejoin"],
		"error_rate", fmt.Sprintf("%.1f%%", f.metrics.GetErrorRate()),
		"counters", counters)
}

func (f *follower) print(update *livenative.Update) {
	if f.showDiff && f.markup != "" {
		writeDiff(f.out, f.markup, update.Markup)
	} else {
		fmt.Fprintln(f.out, update.Markup)
	}
	f.markup = update.Markup
}

func originOf(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}
