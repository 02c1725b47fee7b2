package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/variazioni/dbopen"
	"github.com/hazyhaar/variazioni/pipeline"
	"github.com/hazyhaar/variazioni/store"
	"github.com/hazyhaar/variazioni/variation"
)

func seeded(t *testing.T) *store.Store {
	t.Helper()
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	mk := func(day, hour int, class, teacher, sub string) variation.Variation {
		return variation.Variation{
			Date: variation.NewDate(2024, time.May, day), Hour: hour, ClassName: class, Classroom: "L1",
			Teacher: variation.Person(teacher), Substitute1: variation.Person(sub),
			Substitute2: variation.NoPerson, Type: variation.TypeNew,
		}
	}
	b := variation.Batch{}
	b.AddAll([]variation.Variation{
		mk(13, 1, "3A", "Rossi", "Bianchi"),
		mk(13, 2, "3A", "Verdi", "-"),
		mk(14, 3, "4B", "Rossi", "Neri"),
	})
	if err := s.SaveVariations(context.Background(), b); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

type fakeRunner struct {
	busy  atomic.Bool
	calls atomic.Int32
}

func (f *fakeRunner) Run(context.Context, string) (*pipeline.Report, error) {
	f.calls.Add(1)
	return &pipeline.Report{}, nil
}

func (f *fakeRunner) Busy() bool { return f.busy.Load() }

func newAPI(t *testing.T, runner Runner) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	pipeline.NewMetrics(reg)
	return New(context.Background(), seeded(t), runner, reg, nil)
}

func newServer(t *testing.T, runner Runner) http.Handler {
	t.Helper()
	return newAPI(t, runner).Handler()
}

func get(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
	return rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestVariationsByDate(t *testing.T) {
	h := newServer(t, nil)

	var vs []variation.Variation
	if rec := get(t, h, "/variations?date=2024-05-13", &vs); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(vs) != 2 {
		t.Fatalf("variations = %d, want 2", len(vs))
	}
	if vs[0].Teacher != "Rossi" {
		t.Errorf("first teacher = %q, want Rossi", vs[0].Teacher)
	}

	vs = nil
	if rec := get(t, h, "/variations?date=2024-05-13&date=2024-05-14", &vs); rec.Code != http.StatusOK || len(vs) != 3 {
		t.Errorf("two dates: status %d, %d variations, want 3", rec.Code, len(vs))
	}

	if body := get(t, h, "/variations?date=2024-01-01", nil).Body.String(); body != "[]\n" {
		t.Errorf("empty date body = %q, want []", body)
	}

	for _, path := range []string{"/variations", "/variations?date=13/05/2024"} {
		if code := get(t, h, path, nil).Code; code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, code)
		}
	}
}

func TestVariationsByClass(t *testing.T) {
	h := newServer(t, nil)
	var vs []variation.Variation
	if rec := get(t, h, "/variations?class=3A&from=2024-05-13", &vs); rec.Code != http.StatusOK || len(vs) != 2 {
		t.Errorf("3A: status %d, %d variations, want 2", rec.Code, len(vs))
	}

	vs = nil
	if get(t, h, "/variations?class=4B", &vs); len(vs) != 1 {
		t.Errorf("4B: %d variations, want 1", len(vs))
	}
}

func TestStats(t *testing.T) {
	h := newServer(t, nil)

	var ranked []store.Ranked
	get(t, h, "/stats/classes", &ranked)
	if len(ranked) == 0 || ranked[0] != (store.Ranked{Name: "3A", Count: 2}) {
		t.Errorf("classes leaderboard = %+v, want 3A first with 2", ranked)
	}

	ranked = nil
	get(t, h, "/stats/professors", &ranked)
	if len(ranked) == 0 || ranked[0].Name != "Rossi" {
		t.Errorf("professors leaderboard = %+v, want Rossi first", ranked)
	}

	ranked = nil
	get(t, h, "/stats/classes/4", &ranked)
	if want := []store.Ranked{{Name: "4B", Count: 1}}; !reflect.DeepEqual(ranked, want) {
		t.Errorf("class age 4 = %+v, want %+v", ranked, want)
	}

	for path, n := range map[string]int{"/stats/monthly/5": 31, "/stats/yearly": 12, "/stats/hourly": 6} {
		var buckets []store.Bucket
		get(t, h, path, &buckets)
		if len(buckets) != n {
			t.Errorf("GET %s: %d buckets, want %d", path, len(buckets), n)
		}
	}

	var week []store.WeekdayAverage
	if rec := get(t, h, "/stats/weekday", &week); rec.Code != http.StatusOK {
		t.Errorf("weekday status = %d", rec.Code)
	}

	var totals []store.AgeTotal
	if get(t, h, "/stats/summary", &totals); len(totals) == 0 {
		t.Error("summary is empty")
	}

	for _, path := range []string{"/stats/monthly/13", "/stats/classes/x"} {
		if code := get(t, h, path, nil).Code; code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, code)
		}
	}
}

func TestTeachers(t *testing.T) {
	h := newServer(t, nil)
	var names []string
	if rec := get(t, h, "/teachers?q=ross", &names); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !slices.Equal(names, []string{"Rossi"}) {
		t.Errorf("names = %v, want [Rossi]", names)
	}
	if code := get(t, h, "/teachers", nil).Code; code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", code)
	}
}

func TestTriggerRun(t *testing.T) {
	// WHAT: A manual trigger starts a run; a second trigger while busy is 409.
	// WHY: Runs never overlap.
	runner := &fakeRunner{}
	h := newServer(t, runner)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger = %d, want 202", rec.Code)
	}
	waitFor(t, func() bool { return runner.calls.Load() == 1 })

	runner.busy.Store(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("busy trigger = %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "in progress") {
		t.Errorf("busy body = %q", rec.Body.String())
	}
}

func TestTriggerDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(t, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/runs", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func TestRunsAndMetrics(t *testing.T) {
	h := newServer(t, nil)
	var runs []store.Run
	if rec := get(t, h, "/runs", &runs); rec.Code != http.StatusOK {
		t.Fatalf("runs status = %d", rec.Code)
	}
	if len(runs) != 0 {
		t.Errorf("runs = %d, want 0", len(runs))
	}

	rec := get(t, h, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	// Vectors without observations are not exported; the histogram is.
	if !strings.Contains(rec.Body.String(), "variazioni_run_duration_seconds") {
		t.Error("run duration histogram not exported")
	}

	rec = get(t, h, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
}
