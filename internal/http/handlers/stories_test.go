package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"storyloom/internal/adapter/repo"
	"storyloom/internal/infra"
	"storyloom/internal/reconcile"
	"storyloom/internal/storage"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("creating file store: %v", err)
	}
	logger := zerolog.Nop()
	return &App{
		Tracker: repo.NewTrackerMem(),
		Store:   store,
		Engine:  reconcile.New(store, nil, logger),
		Logger:  logger,
		Cfg:     &infra.Config{},
	}
}

// routed injects chi URL params the way the router would.
func routed(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) jobDTO {
	t.Helper()
	var dto jobDTO
	if err := json.NewDecoder(rec.Body).Decode(&dto); err != nil {
		t.Fatalf("decode job response: %v", err)
	}
	return dto
}

func decodeScene(t *testing.T, rec *httptest.ResponseRecorder) sceneDTO {
	t.Helper()
	var dto sceneDTO
	if err := json.NewDecoder(rec.Body).Decode(&dto); err != nil {
		t.Fatalf("decode scene response: %v", err)
	}
	return dto
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return envelope.Error.Code
}

func createStory(t *testing.T, app *App, id string) jobDTO {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/stories", strings.NewReader(fmt.Sprintf(`{"id":%q}`, id)))
	rec := httptest.NewRecorder()
	app.CreateStory(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create story status = %d, body=%s", rec.Code, rec.Body.String())
	}
	return decodeJob(t, rec)
}

func setMetadata(t *testing.T, app *App, jobID, title string, total int) jobDTO {
	t.Helper()
	body := strings.NewReader(fmt.Sprintf(`{"title":%q,"total_scenes":%d}`, title, total))
	req := routed(httptest.NewRequest(http.MethodPut, "/v1/stories/"+jobID+"/metadata", body),
		map[string]string{"job_id": jobID})
	rec := httptest.NewRecorder()
	app.SetStoryMetadata(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("set metadata status = %d, body=%s", rec.Code, rec.Body.String())
	}
	return decodeJob(t, rec)
}

func registerScene(t *testing.T, app *App, jobID string, index int, text string) sceneDTO {
	t.Helper()
	body := strings.NewReader(fmt.Sprintf(`{"index":%d,"text":%q}`, index, text))
	req := routed(httptest.NewRequest(http.MethodPost, "/v1/stories/"+jobID+"/scenes", body),
		map[string]string{"job_id": jobID})
	rec := httptest.NewRecorder()
	app.RegisterScene(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("register scene status = %d, body=%s", rec.Code, rec.Body.String())
	}
	return decodeScene(t, rec)
}

func reportStage(t *testing.T, app *App, sceneID, kind, status, url string) *httptest.ResponseRecorder {
	t.Helper()
	body := strings.NewReader(fmt.Sprintf(`{"status":%q,"url":%q}`, status, url))
	req := routed(httptest.NewRequest(http.MethodPost, "/v1/scenes/"+sceneID+"/"+kind, body),
		map[string]string{"scene_id": sceneID})
	rec := httptest.NewRecorder()
	switch kind {
	case "image":
		app.ReportSceneImage(rec, req)
	case "audio":
		app.ReportSceneAudio(rec, req)
	default:
		t.Fatalf("unknown stage kind %q", kind)
	}
	return rec
}

func getStory(t *testing.T, app *App, jobID string) jobDTO {
	t.Helper()
	req := routed(httptest.NewRequest(http.MethodGet, "/v1/stories/"+jobID, nil),
		map[string]string{"job_id": jobID})
	rec := httptest.NewRecorder()
	app.GetStory(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get story status = %d, body=%s", rec.Code, rec.Body.String())
	}
	return decodeJob(t, rec)
}

func TestCreateStory(t *testing.T) {
	app := newTestApp(t)

	body := strings.NewReader(`{"id":"job-1","grade_level":"2","locale":"id","source_name":"fox.txt"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/stories", body)
	rec := httptest.NewRecorder()
	app.CreateStory(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	dto := decodeJob(t, rec)
	if dto.ID != "job-1" || dto.Status != "initializing" {
		t.Fatalf("job = %+v", dto)
	}

	meta, err := app.Store.Metadata(context.Background(), "job-1", storage.AreaWorking)
	if err != nil {
		t.Fatalf("reading sidecar: %v", err)
	}
	if meta[storage.MetaGradeLevel] != "2" || meta[storage.MetaLocale] != "id" || meta[storage.MetaSourceName] != "fox.txt" {
		t.Fatalf("sidecar = %v", meta)
	}
}

func TestCreateStoryGeneratesID(t *testing.T) {
	app := newTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/stories", nil)
	rec := httptest.NewRecorder()
	app.CreateStory(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if dto := decodeJob(t, rec); dto.ID == "" {
		t.Fatal("expected a generated job id")
	}
}

func TestCreateStoryDuplicate(t *testing.T) {
	app := newTestApp(t)
	createStory(t, app, "job-1")

	req := httptest.NewRequest(http.MethodPost, "/v1/stories", strings.NewReader(`{"id":"job-1"}`))
	rec := httptest.NewRecorder()
	app.CreateStory(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if code := decodeErrorCode(t, rec); code != "already_exists" {
		t.Fatalf("error code = %q", code)
	}
}

func TestSetStoryMetadata(t *testing.T) {
	app := newTestApp(t)
	createStory(t, app, "job-1")

	dto := setMetadata(t, app, "job-1", "The Clever Fox", 3)
	if dto.Title != "The Clever Fox" || dto.TotalScenes != 3 || dto.Status != "processing" {
		t.Fatalf("job = %+v", dto)
	}

	meta, err := app.Store.Metadata(context.Background(), "job-1", storage.AreaWorking)
	if err != nil {
		t.Fatalf("reading sidecar: %v", err)
	}
	if meta[storage.MetaTitle] != "The Clever Fox" {
		t.Fatalf("sidecar title = %v", meta[storage.MetaTitle])
	}
}

func TestSetStoryMetadataValidation(t *testing.T) {
	app := newTestApp(t)
	createStory(t, app, "job-1")

	tests := []struct {
		name  string
		jobID string
		body  string
		want  int
	}{
		{name: "negative total", jobID: "job-1", body: `{"title":"x","total_scenes":-1}`, want: http.StatusBadRequest},
		{name: "unknown job", jobID: "ghost", body: `{"title":"x","total_scenes":2}`, want: http.StatusNotFound},
		{name: "bad json", jobID: "job-1", body: `{"title":`, want: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := routed(httptest.NewRequest(http.MethodPut, "/v1/stories/"+tc.jobID+"/metadata", strings.NewReader(tc.body)),
				map[string]string{"job_id": tc.jobID})
			rec := httptest.NewRecorder()
			app.SetStoryMetadata(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestFailStory(t *testing.T) {
	app := newTestApp(t)
	createStory(t, app, "job-1")

	req := routed(httptest.NewRequest(http.MethodPost, "/v1/stories/job-1/fail", strings.NewReader(`{"reason":"llm timeout"}`)),
		map[string]string{"job_id": "job-1"})
	rec := httptest.NewRecorder()
	app.FailStory(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	dto := getStory(t, app, "job-1")
	if dto.Status != "failed" || dto.FailReason != "llm timeout" {
		t.Fatalf("job = %+v", dto)
	}
}

func TestFailStoryUnknownJobIsNoOp(t *testing.T) {
	app := newTestApp(t)

	req := routed(httptest.NewRequest(http.MethodPost, "/v1/stories/ghost/fail", strings.NewReader(`{"reason":"x"}`)),
		map[string]string{"job_id": "ghost"})
	rec := httptest.NewRecorder()
	app.FailStory(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestGetStoryNotFound(t *testing.T) {
	app := newTestApp(t)

	req := routed(httptest.NewRequest(http.MethodGet, "/v1/stories/ghost", nil),
		map[string]string{"job_id": "ghost"})
	rec := httptest.NewRecorder()
	app.GetStory(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if code := decodeErrorCode(t, rec); code != "not_found" {
		t.Fatalf("error code = %q", code)
	}
}

func TestRegisterSceneAndList(t *testing.T) {
	app := newTestApp(t)
	createStory(t, app, "job-1")
	setMetadata(t, app, "job-1", "The Clever Fox", 2)

	first := registerScene(t, app, "job-1", 0, "Once upon a time")
	if first.ID != "job-1:0" || first.ImageStatus != "pending" || first.AudioStatus != "pending" {
		t.Fatalf("scene = %+v", first)
	}
	registerScene(t, app, "job-1", 1, "The fox ran")

	// Re-registering the same index keeps the identity and refreshes the text.
	again := registerScene(t, app, "job-1", 0, "Once upon a forest")
	if again.ID != first.ID || again.Text != "Once upon a forest" {
		t.Fatalf("re-registered scene = %+v", again)
	}

	req := routed(httptest.NewRequest(http.MethodGet, "/v1/stories/job-1/scenes", nil),
		map[string]string{"job_id": "job-1"})
	rec := httptest.NewRecorder()
	app.ListStoryScenes(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var resp struct {
		Items []sceneDTO `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0].Index != 0 || resp.Items[1].Index != 1 {
		t.Fatalf("items = %+v", resp.Items)
	}
}

func TestRegisterSceneValidation(t *testing.T) {
	app := newTestApp(t)
	createStory(t, app, "job-1")

	tests := []struct {
		name  string
		jobID string
		body  string
		want  int
	}{
		{name: "missing index", jobID: "job-1", body: `{"text":"x"}`, want: http.StatusBadRequest},
		{name: "negative index", jobID: "job-1", body: `{"index":-1}`, want: http.StatusBadRequest},
		{name: "unknown job", jobID: "ghost", body: `{"index":0}`, want: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := routed(httptest.NewRequest(http.MethodPost, "/v1/stories/"+tc.jobID+"/scenes", strings.NewReader(tc.body)),
				map[string]string{"job_id": tc.jobID})
			rec := httptest.NewRecorder()
			app.RegisterScene(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestStoryCompletionFlow(t *testing.T) {
	app := newTestApp(t)
	createStory(t, app, "job-1")
	setMetadata(t, app, "job-1", "The Clever Fox", 2)
	registerScene(t, app, "job-1", 0, "scene zero")
	registerScene(t, app, "job-1", 1, "scene one")

	for _, sceneID := range []string{"job-1:0", "job-1:1"} {
		for _, kind := range []string{"image", "audio"} {
			rec := reportStage(t, app, sceneID, kind, "completed", "https://cdn.example.com/a.png")
			if rec.Code != http.StatusOK {
				t.Fatalf("report %s for %s status = %d", kind, sceneID, rec.Code)
			}
		}
	}

	dto := getStory(t, app, "job-1")
	if dto.Status != "completed" || dto.CompletedScenes != 2 {
		t.Fatalf("job after all reports = %+v", dto)
	}
}

func TestSaveStory(t *testing.T) {
	app := newTestApp(t)
	createStory(t, app, "job-1")

	req := routed(httptest.NewRequest(http.MethodPost, "/v1/stories/job-1/save", nil),
		map[string]string{"job_id": "job-1"})
	rec := httptest.NewRecorder()
	app.SaveStory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode save response: %v", err)
	}
	if resp["ref"] != "saved/job-1" || resp["saved_id"] != "job-1" {
		t.Fatalf("response = %v", resp)
	}

	meta, err := app.Store.Metadata(context.Background(), "job-1", storage.AreaSaved)
	if err != nil {
		t.Fatalf("saved sidecar: %v", err)
	}
	if meta[storage.MetaOriginalID] != "job-1" {
		t.Fatalf("saved sidecar = %v", meta)
	}

	// The working folder moved; a second save has nothing to promote.
	rec = httptest.NewRecorder()
	app.SaveStory(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second save status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSaveStoryUnderNewID(t *testing.T) {
	app := newTestApp(t)
	createStory(t, app, "job-1")

	req := routed(httptest.NewRequest(http.MethodPost, "/v1/stories/job-1/save?as=story-9", nil),
		map[string]string{"job_id": "job-1"})
	rec := httptest.NewRecorder()
	app.SaveStory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode save response: %v", err)
	}
	if resp["saved_id"] != "story-9" || resp["original_id"] != "job-1" {
		t.Fatalf("response = %v", resp)
	}
}

func TestExportStory(t *testing.T) {
	app := newTestApp(t)
	createStory(t, app, "job-1")

	ctx := context.Background()
	if _, err := app.Store.SaveArtifact(ctx, "job-1", storage.AreaWorking, "job-1_scene_0.png", []byte("png-bytes")); err != nil {
		t.Fatalf("seeding artifact: %v", err)
	}
	if _, err := app.Store.SaveArtifact(ctx, "job-1", storage.AreaWorking, "job-1_scene_0.mp3", []byte("mp3-bytes")); err != nil {
		t.Fatalf("seeding artifact: %v", err)
	}
	// Overwrite one file so a backup exists; backups must stay out of exports.
	if _, err := app.Store.SaveArtifact(ctx, "job-1", storage.AreaWorking, "job-1_scene_0.png", []byte("png-v2")); err != nil {
		t.Fatalf("overwriting artifact: %v", err)
	}

	req := routed(httptest.NewRequest(http.MethodGet, "/v1/stories/job-1/export", nil),
		map[string]string{"job_id": "job-1"})
	rec := httptest.NewRecorder()
	app.ExportStory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q", ct)
	}

	data := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if len(names) != 2 || !names["job-1_scene_0.png"] || !names["job-1_scene_0.mp3"] {
		t.Fatalf("archive contents = %v", names)
	}
}

func TestExportStoryUnknownJob(t *testing.T) {
	app := newTestApp(t)

	req := routed(httptest.NewRequest(http.MethodGet, "/v1/stories/ghost/export", nil),
		map[string]string{"job_id": "ghost"})
	rec := httptest.NewRecorder()
	app.ExportStory(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
