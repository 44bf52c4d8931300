package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	gin "github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gameinsight/gameinsight/internal/catalog"
	"github.com/gameinsight/gameinsight/internal/ingest"
	"github.com/gameinsight/gameinsight/internal/queue"
	games "github.com/gameinsight/gameinsight/internal/repo/gorm/games"
	usersgorm "github.com/gameinsight/gameinsight/internal/repo/gorm/users"
	"github.com/gameinsight/gameinsight/internal/scheduler"
)

// fakeQueue backs both the scheduler submissions and the queue admin API.
type fakeQueue struct {
	enqueued []string
	statuses map[string]*queue.Status
	revoked  []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{statuses: map[string]*queue.Status{}}
}

func (f *fakeQueue) Enqueue(ctx context.Context, function string, args []any, kwargs map[string]any) (string, error) {
	f.enqueued = append(f.enqueued, function)
	return "queued-1", nil
}

func (f *fakeQueue) Status(ctx context.Context, id string) (*queue.Status, error) {
	st, ok := f.statuses[id]
	if !ok {
		return nil, queue.ErrNotFound
	}
	return st, nil
}

func (f *fakeQueue) Revoke(ctx context.Context, id string) error {
	if _, ok := f.statuses[id]; !ok {
		return queue.ErrNotFound
	}
	f.revoked = append(f.revoked, id)
	return nil
}

func (f *fakeQueue) Jobs(ctx context.Context) ([]queue.JobView, error) {
	return []queue.JobView{{Type: "scheduled", ID: "j1", Function: "fetch_month"}}, nil
}

func (f *fakeQueue) PingWorkers(ctx context.Context) ([]queue.WorkerInfo, error) {
	return []queue.WorkerInfo{{Name: "w1"}}, nil
}

func (f *fakeQueue) Broadcast(ctx context.Context, command string) (int64, error) {
	return 2, nil
}

func testServer(t *testing.T) (*gin.Engine, *games.Repo, *fakeQueue) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := games.AutoMigrate(db); err != nil {
		t.Fatalf("migrate games: %v", err)
	}
	if err := usersgorm.AutoMigrate(db); err != nil {
		t.Fatalf("migrate users: %v", err)
	}
	gamesRepo := games.NewRepo(db)
	usersRepo := usersgorm.New(db)

	fq := newFakeQueue()
	reg := ingest.NewRegistry(nil, gamesRepo, nil)
	sched := scheduler.New(fq, reg)

	srv := NewServer(gamesRepo, usersRepo, sched, fq)
	return srv.ginEngine(), gamesRepo, fq
}

func doJSON(t *testing.T, e *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

var seedGameSeq int64

func seedGameHTTP(t *testing.T, repo *games.Repo, slug, genre string) {
	t.Helper()
	id := atomic.AddInt64(&seedGameSeq, 1)
	var rec catalog.Record
	raw := `{"id": ` + strconv.FormatInt(id, 10) + `, "slug": "` + slug + `", "name": "` + slug + `", "released": "2020-05-01",
		"rating": 4.0, "genres": [{"id": 1, "name": "` + genre + `", "slug": "` + genre + `"}]}`
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if _, _, err := repo.CreateFromRecord(context.Background(), &rec); err != nil {
		t.Fatalf("seed game: %v", err)
	}
}

func TestHealth(t *testing.T) {
	e, _, _ := testServer(t)
	w := doJSON(t, e, http.MethodGet, "/health", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	if decodeBody(t, w)["status"] != "ok" {
		t.Fatalf("body = %s", w.Body.String())
	}
	if w := doJSON(t, e, http.MethodGet, "/healthz", nil); w.Code != 200 || w.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", w.Code, w.Body.String())
	}
}

func TestRequestIDPropagated(t *testing.T) {
	e, _, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("request id = %q", got)
	}

	w2 := doJSON(t, e, http.MethodGet, "/health", nil)
	if w2.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id must be generated when absent")
	}
}

func TestListGamesEndpoint(t *testing.T) {
	e, repo, _ := testServer(t)
	seedGameHTTP(t, repo, "first-game", "rpg")
	seedGameHTTP(t, repo, "second-game", "racing")

	w := doJSON(t, e, http.MethodGet, "/api/games?genre=rpg", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["count"] != float64(1) {
		t.Fatalf("count = %v", body["count"])
	}
	results := body["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %v", results)
	}

	if w := doJSON(t, e, http.MethodGet, "/api/games?year=abc", nil); w.Code != 400 {
		t.Fatalf("bad year should 400, got %d", w.Code)
	}
}

func TestGetGameEndpoint(t *testing.T) {
	e, repo, _ := testServer(t)
	seedGameHTTP(t, repo, "the-game", "rpg")

	if w := doJSON(t, e, http.MethodGet, "/api/games/the-game", nil); w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	g, err := repo.GetBySlug(context.Background(), "the-game")
	if err != nil || g == nil {
		t.Fatalf("seed lookup: %v", err)
	}
	if w := doJSON(t, e, http.MethodGet, "/api/games/"+jsonNum(float64(g.ID)), nil); w.Code != 200 {
		t.Fatalf("lookup by id = %d", w.Code)
	}
	w := doJSON(t, e, http.MethodGet, "/api/games/ghost", nil)
	if w.Code != 404 {
		t.Fatalf("missing game should 404, got %d", w.Code)
	}
	if decodeBody(t, w)["code"] != "not_found" {
		t.Fatalf("error body = %s", w.Body.String())
	}
}

func TestStatsEndpoints(t *testing.T) {
	e, repo, _ := testServer(t)
	seedGameHTTP(t, repo, "a-game", "rpg")

	for _, path := range []string{
		"/api/stats/games-per-year",
		"/api/stats/avg-rating-by-genre",
		"/api/stats/rating-distribution",
		"/api/stats/top-genres",
		"/api/stats/top-platforms",
	} {
		if w := doJSON(t, e, http.MethodGet, path, nil); w.Code != 200 {
			t.Fatalf("%s: status = %d body = %s", path, w.Code, w.Body.String())
		}
	}
}

func TestUserRegistrationAndLogin(t *testing.T) {
	e, _, _ := testServer(t)

	w := doJSON(t, e, http.MethodPost, "/api/users", map[string]any{"email": "dev@example.test", "password": "secret-pass"})
	if w.Code != 201 {
		t.Fatalf("register = %d body = %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["email"] != "dev@example.test" {
		t.Fatalf("body = %s", w.Body.String())
	}

	// duplicate email
	if w := doJSON(t, e, http.MethodPost, "/api/users", map[string]any{"email": "dev@example.test", "password": "secret-pass"}); w.Code != 409 {
		t.Fatalf("duplicate register = %d", w.Code)
	}
	// weak password
	if w := doJSON(t, e, http.MethodPost, "/api/users", map[string]any{"email": "x@example.test", "password": "short"}); w.Code != 400 {
		t.Fatalf("weak password = %d", w.Code)
	}

	if w := doJSON(t, e, http.MethodPost, "/api/auth/login", map[string]any{"email": "dev@example.test", "password": "secret-pass"}); w.Code != 200 {
		t.Fatalf("login = %d", w.Code)
	}
	if w := doJSON(t, e, http.MethodPost, "/api/auth/login", map[string]any{"email": "dev@example.test", "password": "wrong-pass"}); w.Code != 401 {
		t.Fatalf("bad login = %d", w.Code)
	}
}

func TestFavoritesEndpoints(t *testing.T) {
	e, repo, _ := testServer(t)
	seedGameHTTP(t, repo, "fav-game", "rpg")

	w := doJSON(t, e, http.MethodPost, "/api/users", map[string]any{"email": "fan@example.test", "password": "secret-pass"})
	if w.Code != 201 {
		t.Fatalf("register = %d", w.Code)
	}
	uid := decodeBody(t, w)["id"].(float64)

	g, err := repo.GetBySlug(context.Background(), "fav-game")
	if err != nil || g == nil {
		t.Fatalf("seed lookup: %v", err)
	}

	base := "/api/users/" + jsonNum(uid) + "/favorites"
	if w := doJSON(t, e, http.MethodPost, base+"/"+jsonNum(float64(g.ID)), nil); w.Code != 200 {
		t.Fatalf("add favorite = %d body = %s", w.Code, w.Body.String())
	}
	w = doJSON(t, e, http.MethodGet, base, nil)
	if w.Code != 200 {
		t.Fatalf("list favorites = %d", w.Code)
	}
	if results := decodeBody(t, w)["results"].([]any); len(results) != 1 {
		t.Fatalf("favorites = %v", results)
	}
	if w := doJSON(t, e, http.MethodDelete, base+"/"+jsonNum(float64(g.ID)), nil); w.Code != 200 {
		t.Fatalf("remove favorite = %d", w.Code)
	}
	if w := doJSON(t, e, http.MethodGet, "/api/users/999/favorites", nil); w.Code != 404 {
		t.Fatalf("unknown user = %d", w.Code)
	}
}

func jsonNum(f float64) string {
	b, _ := json.Marshal(int(f))
	return string(b)
}

func TestTaskAdminCRUD(t *testing.T) {
	e, _, fq := testServer(t)

	cfg := map[string]any{
		"id":            "demo",
		"name":          "Demo",
		"task_function": "example_task",
		"trigger_type":  "interval",
		"trigger_config": map[string]any{
			"minutes": 10,
		},
		"enabled": true,
	}
	w := doJSON(t, e, http.MethodPost, "/api/tasks", cfg)
	if w.Code != 201 {
		t.Fatalf("create = %d body = %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["trigger"] != "interval[10m0s]" {
		t.Fatalf("body = %s", w.Body.String())
	}

	// invalid create
	bad := map[string]any{"id": "bad", "task_function": "nope", "trigger_type": "interval", "trigger_config": map[string]any{"minutes": 1}}
	if w := doJSON(t, e, http.MethodPost, "/api/tasks", bad); w.Code != 400 {
		t.Fatalf("invalid create = %d", w.Code)
	}

	// list and get
	w = doJSON(t, e, http.MethodGet, "/api/tasks", nil)
	if results := decodeBody(t, w)["results"].([]any); len(results) != 1 {
		t.Fatalf("list = %v", results)
	}
	if w := doJSON(t, e, http.MethodGet, "/api/tasks/demo", nil); w.Code != 200 {
		t.Fatalf("get = %d", w.Code)
	}
	if w := doJSON(t, e, http.MethodGet, "/api/tasks/ghost", nil); w.Code != 404 {
		t.Fatalf("get missing = %d", w.Code)
	}

	// merge-modify: only the trigger changes
	w = doJSON(t, e, http.MethodPut, "/api/tasks/demo", map[string]any{"trigger_config": map[string]any{"minutes": 30}})
	if w.Code != 200 {
		t.Fatalf("modify = %d body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["trigger"] != "interval[30m0s]" || body["task_function"] != "example_task" {
		t.Fatalf("modified body = %s", w.Body.String())
	}

	// invalid modify leaves the task intact
	if w := doJSON(t, e, http.MethodPut, "/api/tasks/demo", map[string]any{"task_function": "nope"}); w.Code != 400 {
		t.Fatalf("invalid modify = %d", w.Code)
	}
	w = doJSON(t, e, http.MethodGet, "/api/tasks/demo", nil)
	if decodeBody(t, w)["task_function"] != "example_task" {
		t.Fatalf("task mutated by failed modify: %s", w.Body.String())
	}

	// pause / resume
	if w := doJSON(t, e, http.MethodPost, "/api/tasks/demo/pause", nil); w.Code != 200 {
		t.Fatalf("pause = %d", w.Code)
	}
	w = doJSON(t, e, http.MethodGet, "/api/tasks/demo", nil)
	if decodeBody(t, w)["enabled"] != false {
		t.Fatalf("pause did not stick: %s", w.Body.String())
	}
	if w := doJSON(t, e, http.MethodPost, "/api/tasks/demo/resume", nil); w.Code != 200 {
		t.Fatalf("resume = %d", w.Code)
	}

	// execute now
	w = doJSON(t, e, http.MethodPost, "/api/tasks/demo/execute", nil)
	if w.Code != 202 {
		t.Fatalf("execute = %d body = %s", w.Code, w.Body.String())
	}
	if decodeBody(t, w)["task_id"] != "queued-1" || len(fq.enqueued) != 1 {
		t.Fatalf("execute body = %s enqueued = %v", w.Body.String(), fq.enqueued)
	}

	// delete
	if w := doJSON(t, e, http.MethodDelete, "/api/tasks/demo", nil); w.Code != 200 {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := doJSON(t, e, http.MethodDelete, "/api/tasks/demo", nil); w.Code != 404 {
		t.Fatalf("second delete = %d", w.Code)
	}
}

func TestTaskFunctionsEndpoint(t *testing.T) {
	e, _, _ := testServer(t)
	w := doJSON(t, e, http.MethodGet, "/api/tasks/functions/available", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	fns := decodeBody(t, w)["functions"].([]any)
	if len(fns) != 4 {
		t.Fatalf("functions = %v", fns)
	}
}

func TestQueueEndpoints(t *testing.T) {
	e, _, fq := testServer(t)

	w := doJSON(t, e, http.MethodGet, "/api/tasks/queue/jobs", nil)
	if w.Code != 200 {
		t.Fatalf("jobs = %d", w.Code)
	}
	if jobs := decodeBody(t, w)["jobs"].([]any); len(jobs) != 1 {
		t.Fatalf("jobs = %v", jobs)
	}

	w = doJSON(t, e, http.MethodGet, "/api/tasks/queue/ping", nil)
	if w.Code != 200 {
		t.Fatalf("ping = %d", w.Code)
	}
	if workers := decodeBody(t, w)["workers"].([]any); len(workers) != 1 {
		t.Fatalf("workers = %v", workers)
	}

	w = doJSON(t, e, http.MethodPost, "/api/tasks/queue/broadcast", map[string]any{"command": "ping"})
	if w.Code != 200 || decodeBody(t, w)["receivers"] != float64(2) {
		t.Fatalf("broadcast = %d body = %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, e, http.MethodPost, "/api/tasks/queue/broadcast", map[string]any{}); w.Code != 400 {
		t.Fatalf("empty broadcast = %d", w.Code)
	}

	// results
	fq.statuses["t1"] = &queue.Status{ID: "t1", State: queue.StateSuccess}
	w = doJSON(t, e, http.MethodGet, "/api/tasks/results/t1", nil)
	if w.Code != 200 || decodeBody(t, w)["state"] != queue.StateSuccess {
		t.Fatalf("result = %d body = %s", w.Code, w.Body.String())
	}
	if w := doJSON(t, e, http.MethodGet, "/api/tasks/results/ghost", nil); w.Code != 404 {
		t.Fatalf("missing result = %d", w.Code)
	}

	if w := doJSON(t, e, http.MethodPost, "/api/tasks/queue/jobs/t1/revoke", nil); w.Code != 200 {
		t.Fatalf("revoke = %d", w.Code)
	}
	if w := doJSON(t, e, http.MethodPost, "/api/tasks/queue/jobs/ghost/revoke", nil); w.Code != 404 {
		t.Fatalf("revoke missing = %d", w.Code)
	}
	if len(fq.revoked) != 1 || fq.revoked[0] != "t1" {
		t.Fatalf("revoked = %v", fq.revoked)
	}
}
