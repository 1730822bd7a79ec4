package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"redub/internal/config"
	"redub/internal/jobs"
	"redub/internal/progress"
	"redub/internal/segments"
	"redub/internal/workflow"
)

func newServer(t *testing.T) (*Server, *jobs.Store, *progress.Hub) {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()

	store, err := jobs.Open(cfg.JobsFile())
	if err != nil {
		t.Fatal(err)
	}
	hub := progress.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub.Start(ctx)
	t.Cleanup(hub.Close)

	manager := workflow.NewManager(&cfg, store, hub, nil, nil)
	server := New(ctx, &cfg, store, manager, hub, nil)
	t.Cleanup(manager.Wait)
	return server, store, hub
}

func TestHealth(t *testing.T) {
	server, _, _ := newServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUploadCreatesJob(t *testing.T) {
	server, store, _ := newServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "interview.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("fake media")); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var job jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.Filename != "interview.mp4" || job.Workdir == "" {
		t.Fatalf("job = %+v", job)
	}
	if _, err := os.Stat(job.InputPath); err != nil {
		t.Fatalf("input not saved: %v", err)
	}
	if _, err := store.Get(job.ID); err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
}

func TestUploadWithoutFileIsBadRequest(t *testing.T) {
	server, _, _ := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSubmitURLValidatesScheme(t *testing.T) {
	server, _, _ := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/url",
		strings.NewReader(`{"url":"ftp://example.com/a"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSubmitURLCreatesJob(t *testing.T) {
	server, _, _ := newServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/url",
		strings.NewReader(`{"url":"https://example.com/talk"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var job jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.SourceURL != "https://example.com/talk" || job.InputPath == "" {
		t.Fatalf("job = %+v", job)
	}
}

func TestGetUnknownJobIs404(t *testing.T) {
	server, _, _ := newServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteTwiceIs404(t *testing.T) {
	server, store, _ := newServer(t)
	job, err := store.Create("a.mp4", "", "", "")
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+job.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+job.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestTimelineArtifactServed(t *testing.T) {
	server, store, _ := newServer(t)
	workdir := t.TempDir()
	job, err := store.Create("a.mp4", "", workdir, "")
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/timeline", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status before render = %d", rec.Code)
	}

	timeline := []segments.TimelineEntry{{Index: 0, Speaker: "A", TargetEnd: 1.2}}
	if err := segments.WriteArtifact(workdir, segments.TimelineFile, timeline); err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/timeline", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []segments.TimelineEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Speaker != "A" {
		t.Fatalf("timeline = %#v", got)
	}
}

func TestAudioServesBothTracks(t *testing.T) {
	server, store, _ := newServer(t)
	workdir := t.TempDir()
	input := filepath.Join(t.TempDir(), "input.mp4")
	if err := os.WriteFile(input, []byte("original media"), 0o644); err != nil {
		t.Fatal(err)
	}
	job, err := store.Create("a.mp4", input, workdir, "")
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/audio/source", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "original media" {
		t.Fatalf("source track: status = %d body = %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/audio/dubbed", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("dubbed before render: status = %d", rec.Code)
	}
	if err := os.WriteFile(filepath.Join(workdir, segments.DubbedFile), []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/audio/dubbed", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("dubbed track: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/audio/karaoke", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown track: status = %d", rec.Code)
	}
}

func TestWebsocketStreamsEvents(t *testing.T) {
	server, store, hub := newServer(t)
	job, err := store.Create("a.mp4", "", t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + job.ID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	// Subscription happens inside the handler; wait for it to land.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount(job.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(job.ID, progress.Event{Type: "step_start", Step: "asr"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event progress.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read: %v", err)
	}
	if event.Type != "step_start" || event.Step != "asr" {
		t.Fatalf("event = %+v", event)
	}
}

func TestWebsocketUnknownJobRejected(t *testing.T) {
	server, _, _ := newServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
