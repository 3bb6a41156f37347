package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/doctalk/pkg/config"
	"github.com/xhad/doctalk/pkg/document"
	"github.com/xhad/doctalk/pkg/fetcher"
	"github.com/xhad/doctalk/pkg/llm"
	"github.com/xhad/doctalk/pkg/metrics"
	"github.com/xhad/doctalk/pkg/processor"
	"github.com/xhad/doctalk/pkg/ranker"
	"github.com/xhad/doctalk/pkg/store"
	"github.com/xhad/doctalk/server"
)

// scriptedGenerator streams reply for every prompt, optionally waiting for
// release first. cancelled, if set, is closed when a call's context ends
// before release.
type scriptedGenerator struct {
	mu        sync.Mutex
	prompts   []string
	reply     []string
	release   chan struct{}
	cancelled chan struct{}
}

func (g *scriptedGenerator) StreamGenerate(ctx context.Context, prompt string, onChunk func(string) error) error {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			if g.cancelled != nil {
				close(g.cancelled)
			}
			return ctx.Err()
		}
	}
	for _, chunk := range g.reply {
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (g *scriptedGenerator) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type testEnv struct {
	ts        *httptest.Server
	hub       *server.Hub
	uploadDir string
}

func newTestEnv(t *testing.T, gen *scriptedGenerator, mutate func(*config.Config, *server.HubConfig)) *testEnv {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.MaxUploadSize = 1 << 20
	cfg.Server.UploadDir = t.TempDir()
	cfg.Server.StaticDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Server.StaticDir, "index.html"), []byte("<h1>doctalk</h1>"), 0o644))

	hubCfg := server.HubConfig{HeartbeatInterval: time.Hour, TopK: 3}
	if mutate != nil {
		mutate(cfg, &hubCfg)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 2000})
	docs := store.New()
	svc := document.NewService(&p, docs, nil, m)
	coord := llm.NewCoordinator(gen, llm.CoordinatorConfig{BatchSize: 3}, nil)
	hub := server.NewHub(hubCfg, docs, ranker.NewWithConfig(ranker.RankerConfig{}), coord, nil, m)

	srv := server.New(server.Options{
		Config:    cfg,
		Hub:       hub,
		Documents: svc,
		Fetcher: fetcher.NewWithConfig(fetcher.FetcherConfig{
			RateLimit:            100,
			AllowPrivateNetworks: cfg.Fetcher.AllowPrivateNetworks,
		}),
		Store:    docs,
		Gatherer: reg,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})

	return &testEnv{ts: ts, hub: hub, uploadDir: cfg.Server.UploadDir}
}

// dial connects and consumes the greeting.
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	greeting := readMsg(t, ws)
	require.Equal(t, "connection", greeting["type"])
	return ws
}

func (e *testEnv) upload(t *testing.T, name string, content []byte) (*http.Response, map[string]any) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.ts.URL+"/api/upload", mw.FormDataContentType(), body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func readMsg(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func sendChat(t *testing.T, ws *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]string{"type": "chat", "message": text}))
}

// expectSilence asserts that nothing arrives for d. The connection cannot be
// read from afterwards.
func expectSilence(t *testing.T, ws *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(d)))
	_, data, err := ws.ReadMessage()
	require.Error(t, err, "unexpected message %s", data)
	var netErr net.Error
	if assert.ErrorAs(t, err, &netErr) {
		assert.True(t, netErr.Timeout())
	}
}

func TestConnectionGreeting(t *testing.T) {
	env := newTestEnv(t, &scriptedGenerator{}, nil)

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	msg := readMsg(t, ws)
	assert.Equal(t, "connection", msg["type"])
	assert.Equal(t, "Connected successfully", msg["message"])
	assert.NotEmpty(t, msg["clientId"])
	assert.Eventually(t, func() bool { return env.hub.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestChatWithoutDocument(t *testing.T) {
	gen := &scriptedGenerator{reply: []string{"never"}}
	env := newTestEnv(t, gen, nil)
	ws := env.dial(t)

	sendChat(t, ws, "what is in the document?")

	msg := readMsg(t, ws)
	assert.Equal(t, "error", msg["type"])
	expectSilence(t, ws, 200*time.Millisecond)
	assert.Empty(t, gen.calls())
}

func TestUploadBroadcastsAndChatStreams(t *testing.T) {
	gen := &scriptedGenerator{reply: []string{"Hello", " world"}}
	env := newTestEnv(t, gen, nil)
	ws := env.dial(t)

	resp, body := env.upload(t, "data.json", []byte(`{"a":{"b":1},"c":2}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "File processed successfully", body["message"])

	update := readMsg(t, ws)
	assert.Equal(t, "documentUpdate", update["type"])
	assert.Equal(t, body["metadata"], update["metadata"])

	meta := update["metadata"].(map[string]any)
	assert.Equal(t, "data.json", meta["title"])
	assert.Equal(t, "JSON", meta["kind"])
	assert.Equal(t, 1.0, meta["fragmentCount"])
	assert.Equal(t, []any{"a", "c"}, meta["extra"].(map[string]any)["keys"])

	sendChat(t, ws, "what is b?")

	progress := readMsg(t, ws)
	assert.Equal(t, "progress", progress["type"])
	assert.Equal(t, "Found relevant content chunks", progress["message"])
	assert.Equal(t, 1.0, progress["chunksFound"])

	first := readMsg(t, ws)
	assert.Equal(t, map[string]any{"type": "response", "message": "Hello", "isComplete": false}, first)
	second := readMsg(t, ws)
	assert.Equal(t, map[string]any{"type": "response", "message": " world", "isComplete": false}, second)
	done := readMsg(t, ws)
	assert.Equal(t, map[string]any{"type": "response", "message": "", "isComplete": true}, done)

	prompts := gen.calls()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "a.b: 1\nc: 2")
	assert.Contains(t, prompts[0], "Question: what is b?")

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary upload removed")
}

func TestInvalidMessagesKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t, &scriptedGenerator{}, nil)
	ws := env.dial(t)

	tests := []struct {
		payload string
		want    string
	}{
		{`{"type":"ping"}`, "Unknown message type"},
		{`not json`, "Error processing message"},
		{`{"type":"chat","message":5}`, "Error processing message"},
		{`{"type":"chat","message":"   "}`, "Error processing message"},
		{`{"type":"chat"}`, "Error processing message"},
		{`{"message":"hi"}`, "Unknown message type"},
	}

	for _, tt := range tests {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tt.payload)))
		msg := readMsg(t, ws)
		assert.Equal(t, "error", msg["type"], tt.payload)
		assert.Equal(t, tt.want, msg["message"], tt.payload)
	}
	assert.Equal(t, 1, env.hub.Len())
}

func TestBusyConnectionRejectsSecondChat(t *testing.T) {
	gen := &scriptedGenerator{reply: []string{"answer"}, release: make(chan struct{})}
	env := newTestEnv(t, gen, nil)
	ws := env.dial(t)

	resp, _ := env.upload(t, "doc.json", []byte(`{"topic": "storage engines"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "documentUpdate", readMsg(t, ws)["type"])

	sendChat(t, ws, "which storage?")
	require.Equal(t, "progress", readMsg(t, ws)["type"])

	sendChat(t, ws, "and another question?")
	busy := readMsg(t, ws)
	assert.Equal(t, map[string]any{"type": "error", "message": "busy"}, busy)

	close(gen.release)
	assert.Equal(t, "answer", readMsg(t, ws)["message"])
	assert.Equal(t, true, readMsg(t, ws)["isComplete"])
	assert.Len(t, gen.calls(), 1)
}

func TestGenerationFinishesAgainstEarlierDocument(t *testing.T) {
	gen := &scriptedGenerator{reply: []string{"v1 answer"}, release: make(chan struct{})}
	env := newTestEnv(t, gen, nil)
	ws := env.dial(t)

	resp, _ := env.upload(t, "v1.json", []byte(`{"topic": "alpha pricing"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "documentUpdate", readMsg(t, ws)["type"])

	sendChat(t, ws, "pricing")
	require.Equal(t, "progress", readMsg(t, ws)["type"])

	resp, _ = env.upload(t, "v2.json", []byte(`{"topic": "beta pricing"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	update := readMsg(t, ws)
	require.Equal(t, "documentUpdate", update["type"])
	assert.Equal(t, "v2.json", update["metadata"].(map[string]any)["title"])

	close(gen.release)
	assert.Equal(t, "v1 answer", readMsg(t, ws)["message"])
	assert.Equal(t, true, readMsg(t, ws)["isComplete"])

	prompts := gen.calls()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "Document Title: v1.json")
	assert.Contains(t, prompts[0], "topic: alpha pricing")
	assert.NotContains(t, prompts[0], "beta")
}

func TestUploadRejections(t *testing.T) {
	env := newTestEnv(t, &scriptedGenerator{}, func(cfg *config.Config, _ *server.HubConfig) {
		cfg.Server.MaxUploadSize = 64
	})

	tests := []struct {
		name    string
		file    string
		content []byte
		status  int
		error   string
	}{
		{"wrong extension", "notes.txt", []byte("hello"), http.StatusBadRequest, "Invalid file"},
		{"too large", "big.json", []byte(`"` + strings.Repeat("x", 100) + `"`), http.StatusBadRequest, "File upload error"},
		{"broken json", "broken.json", []byte(`{"a":`), http.StatusUnprocessableEntity, "Error processing file"},
		{"broken pdf", "broken.pdf", []byte("not really a pdf"), http.StatusUnprocessableEntity, "Error processing file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.upload(t, tt.file, tt.content)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.error, body["error"])
		})
	}

	resp, err := http.Post(env.ts.URL+"/api/upload", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	entries, err := os.ReadDir(env.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadByURL(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"service": "doctalk", "port": 3000}`))
	}))
	defer origin.Close()

	env := newTestEnv(t, &scriptedGenerator{}, func(cfg *config.Config, _ *server.HubConfig) {
		cfg.Fetcher.AllowPrivateNetworks = true
	})
	ws := env.dial(t)

	resp, err := http.Post(env.ts.URL+"/api/upload/url", "application/json",
		strings.NewReader(`{"url": "`+origin.URL+`/export/settings.json"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	meta := body["metadata"].(map[string]any)
	assert.Equal(t, "settings.json", meta["title"])
	assert.Equal(t, []any{"service", "port"}, meta["extra"].(map[string]any)["keys"])

	assert.Equal(t, "documentUpdate", readMsg(t, ws)["type"])

	bad, err := http.Post(env.ts.URL+"/api/upload/url", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestUploadByURLRefusesPrivateAddresses(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"secret": true}`))
	}))
	defer origin.Close()

	env := newTestEnv(t, &scriptedGenerator{}, nil)

	for _, target := range []string{
		origin.URL + "/settings.json",
		"http://169.254.169.254/latest/meta-data/doc.json",
		"http://[::1]:1/doc.json",
	} {
		resp, err := http.Post(env.ts.URL+"/api/upload/url", "application/json",
			strings.NewReader(`{"url": "`+target+`"}`))
		require.NoError(t, err)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, http.StatusBadGateway, resp.StatusCode, target)
		assert.Equal(t, "Failed to fetch document", body["error"], target)
		assert.Contains(t, body["details"], "not allowed", target)
	}

	status, err := http.Get(env.ts.URL + "/api/document")
	require.NoError(t, err)
	defer status.Body.Close()
	var doc map[string]any
	require.NoError(t, json.NewDecoder(status.Body).Decode(&doc))
	assert.Equal(t, 0.0, doc["version"])
}

func TestClientCloseCancelsGeneration(t *testing.T) {
	gen := &scriptedGenerator{
		reply:     []string{"never sent"},
		release:   make(chan struct{}),
		cancelled: make(chan struct{}),
	}
	env := newTestEnv(t, gen, nil)
	ws := env.dial(t)

	resp, _ := env.upload(t, "doc.json", []byte(`{"topic": "storage engines"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "documentUpdate", readMsg(t, ws)["type"])

	sendChat(t, ws, "which storage?")
	require.Equal(t, "progress", readMsg(t, ws)["type"])
	require.Eventually(t, func() bool { return len(gen.calls()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ws.Close()

	select {
	case <-gen.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("generation context was not cancelled after the client closed")
	}
	assert.Eventually(t, func() bool { return env.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientCloseRemovesConnection(t *testing.T) {
	env := newTestEnv(t, &scriptedGenerator{}, nil)
	ws := env.dial(t)
	require.Equal(t, 1, env.hub.Len())

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	ws.Close()

	assert.Eventually(t, func() bool { return env.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatClosesUnresponsiveConnections(t *testing.T) {
	env := newTestEnv(t, &scriptedGenerator{}, func(_ *config.Config, hc *server.HubConfig) {
		hc.HeartbeatInterval = 50 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.hub.Run(ctx)

	// a client that keeps reading answers pings automatically
	responsive := env.dial(t)
	go func() {
		for {
			if _, _, err := responsive.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// a client that never reads never answers
	env.dial(t)

	assert.Eventually(t, func() bool { return env.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, env.hub.Len())
}

func TestHTTPEndpoints(t *testing.T) {
	env := newTestEnv(t, &scriptedGenerator{}, nil)

	get := func(path string) (int, string) {
		resp, err := http.Get(env.ts.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(data)
	}

	status, body := get("/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	status, body = get("/api/document")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"metadata":{"title":"","kind":"","fragmentCount":0},"version":0}`, body)

	resp, _ := env.upload(t, "doc.json", []byte(`[1, 2, 3]`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status, body = get("/api/document")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"version":1`)
	assert.Contains(t, body, `"title":"doc.json"`)

	status, body = get("/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `doctalk_document_uploads_total{kind="JSON",status="ok"} 1`)

	status, body = get("/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "doctalk")
}
