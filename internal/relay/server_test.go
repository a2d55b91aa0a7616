package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"reels-studio/internal/convert"
	"reels-studio/internal/domain"
	"reels-studio/internal/encoder"
	"reels-studio/internal/logging"
	"reels-studio/internal/pipeline"
)

var mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2\x00\x00\x00\x08free")

// gatedEncoder holds the first stage until gate is closed.
type gatedEncoder struct {
	gate chan struct{}
}

// Invoke waits for the gate on the content stage and writes the stage output.
func (g *gatedEncoder) Invoke(
	ctx context.Context,
	stage pipeline.Stage,
	workDir string,
	_ encoder.ProgressFunc,
) (encoder.CommandLog, error) {
	if stage.Name == pipeline.StageContent {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return encoder.CommandLog{}, &encoder.EncodeError{Stage: stage.Name, Cancelled: true, Err: ctx.Err()}
		}
	}
	return encoder.CommandLog{Command: "ffmpeg"}, os.WriteFile(stage.OutputPath(workDir), []byte("frames"), 0o644)
}

type fixture struct {
	ctrl   *convert.Controller
	srv    *httptest.Server
	gate   chan struct{}
	input  string
	closed bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	if err := os.WriteFile(input, mp4Header, 0o644); err != nil {
		t.Fatalf("write sample: %v", err)
	}

	gate := make(chan struct{})
	ctrl := convert.NewController(domain.Settings{
		OutputDir: filepath.Join(root, "out"),
		WorkRoot:  filepath.Join(root, "work"),
	}, convert.Options{
		Logger:          logging.NewNop(),
		Encoder:         &gatedEncoder{gate: gate},
		DisableFileLock: true,
	})
	srv := httptest.NewServer(New(ctrl, Options{Logger: logging.NewNop(), DefaultQuality: domain.QualityLow}).Handler())

	f := &fixture{ctrl: ctrl, srv: srv, gate: gate, input: input}
	t.Cleanup(func() {
		f.open()
		srv.Close()
		_ = ctrl.Shutdown(context.Background())
	})
	return f
}

func (f *fixture) open() {
	if !f.closed {
		f.closed = true
		close(f.gate)
	}
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) startJob(t *testing.T) domain.ConversionJob {
	t.Helper()
	resp := f.post(t, "/jobs", StartRequest{InputPath: f.input})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	var job domain.ConversionJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return job
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStartJobUsesDefaultQuality(t *testing.T) {
	f := newFixture(t)
	job := f.startJob(t)
	if job.ID == "" {
		t.Fatal("missing job id")
	}
	if job.QualityPreset != domain.QualityLow {
		t.Fatalf("quality = %s, want low", job.QualityPreset)
	}
}

func TestStartJobRejectsDuplicateInput(t *testing.T) {
	f := newFixture(t)
	first := f.startJob(t)

	resp := f.post(t, "/jobs", StartRequest{InputPath: f.input, Quality: "high"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}
	body := decodeError(t, resp)
	if body.Kind != string(convert.KindAlreadyInProgress) || body.JobID != first.ID {
		t.Fatalf("error body = %+v", body)
	}
}

func TestStartJobValidatesRequest(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		body any
	}{
		{"missing input", StartRequest{}},
		{"bad quality", StartRequest{InputPath: f.input, Quality: "ultra"}},
		{"unknown field", map[string]string{"input": f.input}},
	}
	for _, tc := range cases {
		resp := f.post(t, "/jobs", tc.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/jobs/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/jobs/missing", nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer del.Body.Close()
	if del.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel status = %d, want 404", del.StatusCode)
	}
}

func TestCancelAndDiscard(t *testing.T) {
	f := newFixture(t)
	job := f.startJob(t)

	resp := f.post(t, "/jobs/"+job.ID+"/discard", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("discard running status = %d, want 409", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, f.srv.URL+"/jobs/"+job.ID, nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d, want 202", del.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := f.ctrl.Await(ctx, job.ID); convert.KindOf(err) != convert.KindCancelled {
		t.Fatalf("await error = %v, want cancelled", err)
	}

	resp = f.post(t, "/jobs/"+job.ID+"/discard", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("discard status = %d, want 204", resp.StatusCode)
	}
	again := f.post(t, "/jobs", StartRequest{InputPath: f.input})
	if again.StatusCode != http.StatusAccepted {
		t.Fatalf("restart after discard status = %d", again.StatusCode)
	}
}

func TestEventsStreamUntilCompletion(t *testing.T) {
	f := newFixture(t)
	job := f.startJob(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/jobs/" + job.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	f.open()

	var events []domain.ProgressEvent
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev domain.ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("read: %v", err)
			}
			break
		}
		events = append(events, ev)
	}

	if len(events) < 2 {
		t.Fatalf("events = %+v, want snapshot and progress", events)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Percent < events[i-1].Percent {
			t.Fatalf("percent regressed: %+v", events)
		}
	}
	last := events[len(events)-1]
	if last.Status != domain.JobStatusCompleted || last.Percent != 100 {
		t.Fatalf("last event = %+v, want completed 100", last)
	}
}

func TestEventsForFinishedJobSendSnapshotAndClose(t *testing.T) {
	f := newFixture(t)
	f.open()
	job := f.startJob(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := f.ctrl.Await(ctx, job.ID); err != nil {
		t.Fatalf("await: %v", err)
	}

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/jobs/" + job.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var ev domain.ProgressEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if ev.Status != domain.JobStatusCompleted || ev.Stage != convert.StageComplete {
		t.Fatalf("snapshot = %+v", ev)
	}
	if err := conn.ReadJSON(&ev); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestEventsUnknownJob(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/jobs/missing/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %+v, want 404", resp)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173/"})
	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8787/", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	if !check(req) {
		t.Fatal("allowed origin rejected")
	}
	req.Header.Set("Origin", "http://evil.example")
	if check(req) {
		t.Fatal("foreign origin accepted")
	}
	req.Header.Set("Origin", "http://127.0.0.1:8787")
	if !check(req) {
		t.Fatal("same origin rejected")
	}
	req.Header.Del("Origin")
	if !check(req) {
		t.Fatal("request without origin rejected")
	}
}

func TestOriginCheckerDefaultsToSameOrigin(t *testing.T) {
	check := originChecker(nil)
	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8787/", nil)
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatal("foreign origin accepted without an allow list")
	}
	req.Header.Set("Origin", "http://127.0.0.1:8787")
	if !check(req) {
		t.Fatal("same origin rejected")
	}
}

func TestStartJobRequiresJSONContentType(t *testing.T) {
	f := newFixture(t)

	body := `{"inputPath":"` + f.input + `"}`
	resp, err := http.Post(f.srv.URL+"/jobs", "text/plain", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.StatusCode)
	}
	if jobs := f.ctrl.List(); len(jobs) != 0 {
		t.Fatalf("text/plain request started jobs: %+v", jobs)
	}

	resp, err = http.Post(f.srv.URL+"/jobs", "application/json; charset=utf-8", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("json status = %d, want 202", resp.StatusCode)
	}
}

func TestForeignOriginCannotStartJobs(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(StartRequest{InputPath: f.input})
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if jobs := f.ctrl.List(); len(jobs) != 0 {
		t.Fatalf("foreign origin started jobs: %+v", jobs)
	}
}

func TestRetentionDiscardsExpiredJobs(t *testing.T) {
	f := newFixture(t)
	job := f.startJob(t)
	f.open()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.ctrl.Await(ctx, job.ID); err != nil {
		t.Fatalf("await: %v", err)
	}

	s := New(f.ctrl, Options{Logger: logging.NewNop(), Retention: time.Minute})
	if n := s.discardExpired(time.Now()); n != 0 {
		t.Fatalf("discarded %d jobs inside the retention window", n)
	}
	if n := s.discardExpired(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("discarded %d, want 1", n)
	}

	resp, err := http.Get(f.srv.URL + "/jobs/" + job.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 after retention", resp.StatusCode)
	}
}
