package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/engine"
	"github.com/becomeliminal/nim-runtime/memory"
	chromemstore "github.com/becomeliminal/nim-runtime/memory/store/chromem"
	"github.com/becomeliminal/nim-runtime/metrics"
)

type unitEmbedder struct{}

func (unitEmbedder) Name() string { return "Unit" }

func (unitEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (unitEmbedder) Dimensions() int { return 2 }

func newTestServer(t *testing.T, bootstrap bool) (*Server, *engine.Engine) {
	t.Helper()
	store, err := chromemstore.New()
	require.NoError(t, err)
	vectors, err := memory.NewVectorMemory(store)
	require.NoError(t, err)

	exporter := metrics.NewExporter(metrics.DefaultConfig())
	e := engine.New(vectors, unitEmbedder{}, engine.WithMetrics(exporter))
	if bootstrap {
		require.NoError(t, e.Bootstrap(context.Background()))
	}

	srv, err := New(Config{Engine: e, Metrics: exporter.Handler()})
	require.NoError(t, err)
	return srv, e
}

func do(t *testing.T, srv *Server, method, target string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func detail(body map[string]any) string {
	d, _ := body["detail"].(map[string]any)
	msg, _ := d["message"].(string)
	return msg
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	srv, e := newTestServer(t, false)
	code, body := do(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "idle", body["status"])

	require.NoError(t, e.Bootstrap(context.Background()))
	code, body = do(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ready"])
}

func TestDeletePointRoute(t *testing.T) {
	srv, e := newTestServer(t, true)
	id, err := e.Vectors().Add(context.Background(), core.CollectionDeclarative, memory.Point{Vector: []float32{1, 0}})
	require.NoError(t, err)

	code, body := do(t, srv, http.MethodDelete, "/memory/point/declarative/"+id+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "success", "deleted": "true"}, body)

	code, body = do(t, srv, http.MethodDelete, "/memory/point/declarative/"+id+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "false", body["deleted"])

	code, body = do(t, srv, http.MethodDelete, "/memory/point/nonexistent/"+id+"/")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, detail(body), "nonexistent")
}

func TestRecallRoute(t *testing.T) {
	srv, e := newTestServer(t, true)
	ctx := context.Background()
	_, err := e.Vectors().Add(ctx, core.CollectionEpisodic, memory.Point{
		ID:       "p90",
		Vector:   []float32{0.9, 0.43589},
		Metadata: map[string]any{"source": "user", "text": "hello", "lc_kwargs": "x"},
	})
	require.NoError(t, err)
	_, err = e.Vectors().Add(ctx, core.CollectionEpisodic, memory.Point{
		ID:       "p50",
		Vector:   []float32{0.5, 0.86603},
		Metadata: map[string]any{"source": "user"},
	})
	require.NoError(t, err)

	code, body := do(t, srv, http.MethodGet, "/memory/recall/?text=hello")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])

	query := body["query"].(map[string]any)
	assert.Equal(t, "hello", query["text"])
	assert.Len(t, query["vector"], 2)

	vectors := body["vectors"].(map[string]any)
	assert.Equal(t, "Unit", vectors["embedder"])
	collections := vectors["collections"].(map[string]any)
	episodic := collections["episodic"].([]any)
	require.Len(t, episodic, 1)
	point := episodic[0].(map[string]any)
	assert.Equal(t, "p90", point["id"])
	assert.Equal(t, "hello", point["text"])
	assert.Equal(t, "user", point["source"])
	assert.NotContains(t, point, "lc_kwargs")
	assert.NotContains(t, point, "_seq")
	assert.Contains(t, point, "vector")
	assert.Contains(t, point, "score")

	code, body = do(t, srv, http.MethodGet, "/memory/recall/?text=hello&threshold=0.4&k=1")
	require.Equal(t, http.StatusOK, code)
	episodic = body["vectors"].(map[string]any)["collections"].(map[string]any)["episodic"].([]any)
	assert.Len(t, episodic, 1)

	code, body = do(t, srv, http.MethodGet, "/memory/recall/?text=hello&user_id=other")
	require.Equal(t, http.StatusOK, code)
	episodic = body["vectors"].(map[string]any)["collections"].(map[string]any)["episodic"].([]any)
	assert.Empty(t, episodic)

	code, _ = do(t, srv, http.MethodGet, "/memory/recall/?text=hello&k=abc")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestRecallRoute_NotReady(t *testing.T) {
	srv, _ := newTestServer(t, false)
	code, body := do(t, srv, http.MethodGet, "/memory/recall/?text=hello")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotEmpty(t, detail(body))
}

func TestCollectionsRoutes(t *testing.T) {
	srv, e := newTestServer(t, true)
	_, err := e.Vectors().Add(context.Background(), core.CollectionProcedural, memory.Point{Vector: []float32{1, 0}})
	require.NoError(t, err)

	code, body := do(t, srv, http.MethodGet, "/memory/collections/")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["results"])
	collections := body["collections"].([]any)
	assert.Equal(t, map[string]any{"name": "procedural", "vectors_count": float64(1)}, collections[2])

	code, body = do(t, srv, http.MethodDelete, "/memory/collections/procedural")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"procedural": true}, body["deleted"])

	code, body = do(t, srv, http.MethodDelete, "/memory/collections/nonexistent")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.NotEmpty(t, detail(body))

	code, body = do(t, srv, http.MethodDelete, "/memory/wipe-collections/")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["deleted"], 3)
	assert.Equal(t, engine.StateReady, e.State())
}

func TestClearHistoryRoute(t *testing.T) {
	srv, e := newTestServer(t, true)
	_, err := e.Handle(context.Background(), "user", core.NewMessage("hello"))
	require.NoError(t, err)

	code, body := do(t, srv, http.MethodDelete, "/memory/working-memory/conversation-history/")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"status": "success", "deleted": "true"}, body)

	sess, ok := e.Sessions().Get("user")
	require.True(t, ok)
	assert.Empty(t, sess.WorkingMemory().History())
}

func TestMetricsRoute(t *testing.T) {
	srv, e := newTestServer(t, true)
	_, err := e.Handle(context.Background(), "user", core.NewMessage("hello"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nim_pipeline_runs_total")
}

func TestChatSocket(t *testing.T) {
	srv, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/alice"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"text": "hello", "lang": "en"}))
	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, false, resp["error"])
	assert.Equal(t, "chat", resp["type"])
	assert.Equal(t, "hello", resp["content"])
	why := resp["why"].(map[string]any)
	assert.Equal(t, "hello", why["input"])
	assert.Contains(t, why["memory"], "episodic")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, true, resp["error"])
	assert.Equal(t, "error", resp["type"])
}
