package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/livefir/livenative/internal/channel"
	"github.com/livefir/livenative/internal/config"
)

func init() {
	color.NoColor = true
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFiles(t *testing.T, payloads ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(payloads))
	for i, p := range payloads {
		paths[i] = filepath.Join(dir, "payload"+string(rune('0'+i))+".json")
		if err := os.WriteFile(paths[i], []byte(p), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  string
		wantErr  string
	}{
		{"no command", nil, 1, "", "Usage:"},
		{"unknown command", []string{"nope"}, 1, "", "Unknown command: nope"},
		{"version", []string{"version"}, 0, "lvn version dev", ""},
		{"help", []string{"help"}, 0, "Commands:", ""},
		{"render help", []string{"render", "--help"}, 0, "", "Usage: lvn render"},
		{"render without files", []string{"render"}, 1, "", "no payload files given"},
		{"connect without url", []string{"connect", "--config", "does-not-exist.yaml"}, 1, "", "no page url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCmd(t, tt.args...)
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, tt.wantCode, stderr)
			}
			if !strings.Contains(stdout, tt.wantOut) {
				t.Errorf("stdout = %q, want it to contain %q", stdout, tt.wantOut)
			}
			if !strings.Contains(stderr, tt.wantErr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr, tt.wantErr)
			}
		})
	}
}

func TestRender(t *testing.T) {
	files := writeFiles(t,
		`{"0":"1","s":["<p>","</p>"]}`,
		`{"0":"2"}`,
		`{"0":"3"}`,
	)

	code, stdout, stderr := runCmd(t, append([]string{"render", "--container", "app"}, files...)...)
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr)
	}
	want := `<div id="app" data-phx-main="true"><p>3</p></div>` + "\n"
	if stdout != want {
		t.Errorf("stdout = %q, want %q", stdout, want)
	}
}

func TestRender_Diff(t *testing.T) {
	files := writeFiles(t,
		`{"0":"old","s":["<p>","</p>"]}`,
		`{"0":"new"}`,
		`{"0":"new"}`,
	)

	code, stdout, stderr := runCmd(t, append([]string{"render", "--diff"}, files...)...)
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr)
	}
	for _, want := range []string{"== " + files[0], "[-old-]{+new+}", "(no change)"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}
}

func TestRender_Dump(t *testing.T) {
	files := writeFiles(t, `{"0":1,"c":{"1":{"0":"x","s":["<b>","</b>"]}},"s":["",""]}`)

	code, stdout, stderr := runCmd(t, "render", "--dump", files[0])
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, `<b data-phx-component="1">x</b>`) {
		t.Errorf("markup missing from stdout:\n%s", stdout)
	}
	if !strings.Contains(stdout, `"c": {`) {
		t.Errorf("dumped tree missing components:\n%s", stdout)
	}
}

func TestRender_FailedDiff(t *testing.T) {
	files := writeFiles(t,
		`{"0":"1","s":["<p>","</p>"]}`,
		`{"0":9}`,
	)

	code, _, stderr := runCmd(t, append([]string{"render"}, files...)...)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, files[1]) {
		t.Errorf("stderr should name the failing file: %s", stderr)
	}
}

func TestConfig_Write(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lvn.yaml")

	code, stdout, stderr := runCmd(t, "config", "--config", path, "--write", "--url", "http://localhost:4000/counter")
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Wrote") {
		t.Errorf("stdout = %q", stdout)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.URL != "http://localhost:4000/counter" {
		t.Errorf("url = %q", cfg.URL)
	}

	code, stdout, _ = runCmd(t, "config", "--config", path)
	if code != 0 || !strings.Contains(stdout, "url: http://localhost:4000/counter") {
		t.Errorf("config print = %d %q", code, stdout)
	}
}

func TestConfig_RejectsInvalidURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lvn.yaml")
	code, _, stderr := runCmd(t, "config", "--config", path, "--url", "not a url")
	if code != 1 || !strings.Contains(stderr, "url must be an absolute URL") {
		t.Errorf("exit code %d, stderr %q", code, stderr)
	}
}

// liveServer serves a page with one live view and answers joins on the
// socket. Each join is answered with the next rendered tree followed by its
// diffs; the socket is closed after the last join's diffs.
type liveServer struct {
	joins []liveJoin
	count atomic.Int32
}

type liveJoin struct {
	rendered string
	diffs    []string
}

func (s *liveServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "_key", Value: "cookie"})
		w.Write([]byte(`<!DOCTYPE html><html><head><meta name="csrf-token" content="tok"></head>` +
			`<body><div id="phx-1" data-phx-main="true" data-phx-session="sess" data-phx-static="st"></div></body></html>`))
	})
	mux.HandleFunc("/live/websocket", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("_csrf_token") != "tok" {
			http.Error(w, "missing csrf token", http.StatusForbidden)
			return
		}
		if c, err := r.Cookie("_key"); err != nil || c.Value != "cookie" {
			http.Error(w, "missing cookie", http.StatusForbidden)
			return
		}
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		write := func(msg channel.Message) {
			data, _ := json.Marshal(msg)
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg channel.Message
			if err := json.Unmarshal(data, &msg); err != nil || msg.Event != channel.EventJoin {
				continue
			}

			var params joinParams
			_ = json.Unmarshal(msg.Payload, &params)
			if msg.Topic != "lv:phx-1" || params.Session != "sess" || params.Static != "st" || params.Params["_csrf_token"] != "tok" {
				t.Errorf("unexpected join %s %s", msg.Topic, msg.Payload)
			}

			n := int(s.count.Add(1))
			join := s.joins[n-1]
			write(channel.Message{
				JoinRef: msg.JoinRef, Ref: msg.Ref, Topic: msg.Topic, Event: channel.EventReply,
				Payload: json.RawMessage(`{"status":"ok","response":{"rendered":` + join.rendered + `}}`),
			})
			for _, diff := range join.diffs {
				write(channel.Message{JoinRef: msg.JoinRef, Topic: msg.Topic, Event: channel.EventDiff, Payload: json.RawMessage(diff)})
			}
			if n == len(s.joins) {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	})
	return mux
}

func startLiveServer(t *testing.T, joins ...liveJoin) (*liveServer, string) {
	t.Helper()
	s := &liveServer{joins: joins}
	server := httptest.NewServer(s.handler(t))
	t.Cleanup(server.Close)
	return s, server.URL + "/counter"
}

func TestConnect_FollowsDiffs(t *testing.T) {
	_, pageURL := startLiveServer(t, liveJoin{
		rendered: `{"0":"1","s":["<p>","</p>"]}`,
		diffs:    []string{`{"0":"2"}`, `{"0":"3"}`},
	})

	code, stdout, stderr := runCmd(t, "connect", "--config", filepath.Join(t.TempDir(), "none.yaml"), "--url", pageURL)
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr)
	}
	want := `<div id="phx-main" data-phx-main="true"><p>1</p></div>` + "\n" +
		`<div id="phx-main" data-phx-main="true"><p>2</p></div>` + "\n" +
		`<div id="phx-main" data-phx-main="true"><p>3</p></div>` + "\n"
	if stdout != want {
		t.Errorf("stdout =\n%s\nwant\n%s", stdout, want)
	}
	for _, field := range []string{"joins=1", "diffs_applied=2", "rejoins=0", "error_rate=0.0%"} {
		if !strings.Contains(stderr, field) {
			t.Errorf("session summary should contain %s: %s", field, stderr)
		}
	}
}

func TestConnect_RejoinsAfterFailedDiff(t *testing.T) {
	s, pageURL := startLiveServer(t,
		liveJoin{rendered: `{"0":"1","s":["<p>","</p>"]}`, diffs: []string{`{"0":7}`}},
		liveJoin{rendered: `{"0":"a","s":["<p>","</p>"]}`, diffs: []string{`{"0":"b"}`}},
	)

	code, stdout, stderr := runCmd(t, "connect", "--config", filepath.Join(t.TempDir(), "none.yaml"), "--url", pageURL)
	if code != 0 {
		t.Fatalf("exit code %d: %s", code, stderr)
	}
	if got := s.count.Load(); got != 2 {
		t.Errorf("joins = %d, want 2", got)
	}
	if !strings.HasSuffix(stdout, `<div id="phx-main" data-phx-main="true"><p>b</p></div>`+"\n") {
		t.Errorf("stdout =\n%s", stdout)
	}
	for _, field := range []string{"joins=2", "rejoins=1", "diffs_applied=1"} {
		if !strings.Contains(stderr, field) {
			t.Errorf("session summary should contain %s: %s", field, stderr)
		}
	}
}

func TestConnect_GivesUpAfterMaxRejoins(t *testing.T) {
	_, pageURL := startLiveServer(t,
		liveJoin{rendered: `{"0":"1","s":["<p>","</p>"]}`, diffs: []string{`{"0":7}`}},
		liveJoin{rendered: `{"0":"unused","s":["<p>","</p>"]}`},
	)
	path := filepath.Join(t.TempDir(), "lvn.yaml")
	if err := os.WriteFile(path, []byte("max_rejoins: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := runCmd(t, "connect", "--config", path, "--url", pageURL)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "component") {
		t.Errorf("stderr should report the failed diff: %s", stderr)
	}
}
