package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediastream/internal/domain"
	"mediastream/internal/token"
)

type staticResolver map[string]domain.MediaFile

func (sr staticResolver) Resolve(_ context.Context, fileID string) (domain.MediaFile, error) {
	file, ok := sr[fileID]
	if !ok {
		return domain.MediaFile{}, domain.ErrNotFound
	}
	return file, nil
}

func newHandlerTestServer(t *testing.T, resolver FileResolver, auth Authorizer) *Server {
	t.Helper()
	s := NewServer(testServerConfig(t), WithResolver(resolver), WithAuthorizer(auth), WithLogger(discardLogger()))
	t.Cleanup(s.Close)
	return s
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("response is not an error envelope: %v", err)
	}
	return envelope.Error.Code
}

func TestHandleFile_RejectsWithoutCredentials(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, denyAll())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/item-1/file", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "unauthorized" {
		t.Errorf("expected unauthorized code, got %q", code)
	}
}

func TestHandleFile_SessionAuthServesBytes(t *testing.T) {
	file := writeMediaFixture(t, "movie.mkv", 1000, -1)
	s := newHandlerTestServer(t, staticResolver{file.ID: file}, allowAll())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/"+file.ID+"/file", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 1000 {
		t.Errorf("expected full body, got %d bytes", rec.Body.Len())
	}
}

func TestHandleFile_FileTokenAuthorizes(t *testing.T) {
	file := writeMediaFixture(t, "movie.mkv", 1000, -1)
	s := newHandlerTestServer(t, staticResolver{file.ID: file}, denyAll())

	tok, err := s.tokens.Issue(token.AudienceFile, file.ID)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/"+file.ID+"/file?token="+url.QueryEscape(tok), nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with a valid file token, got %d", rec.Code)
	}
}

func TestHandleFile_TokenForOtherFileRejected(t *testing.T) {
	file := writeMediaFixture(t, "movie.mkv", 1000, -1)
	s := newHandlerTestServer(t, staticResolver{file.ID: file}, denyAll())

	tok, err := s.tokens.Issue(token.AudienceFile, "some-other-file")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/"+file.ID+"/file?token="+url.QueryEscape(tok), nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandleFile_MethodNotAllowed(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, allowAll())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stream/item-1/file", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandleFile_UnknownIDIs404(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, allowAll())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/missing/file", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRemux_AbsentEncoderReportsTranscoderNotFound(t *testing.T) {
	file := writeMediaFixture(t, "movie.mkv", 1000, -1)
	s := newHandlerTestServer(t, staticResolver{file.ID: file}, allowAll())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/"+file.ID+"/remux", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "transcoder_not_found" {
		t.Errorf("expected transcoder_not_found, got %q", code)
	}
}

func TestHandleRemux_TokenIsNotASession(t *testing.T) {
	file := writeMediaFixture(t, "movie.mkv", 1000, -1)
	s := newHandlerTestServer(t, staticResolver{file.ID: file}, denyAll())

	tok, err := s.tokens.Issue(token.AudienceFile, file.ID)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/"+file.ID+"/remux?token="+url.QueryEscape(tok), nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("remux requires a session, got %d", rec.Code)
	}
}

func TestHandleAuto_UnauthenticatedRejected(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, denyAll())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/item-1/auto", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandleManifest_RejectsUnknownContainer(t *testing.T) {
	file := writeMediaFixture(t, "movie.mkv", 1000, -1)
	s := newHandlerTestServer(t, staticResolver{file.ID: file}, allowAll())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/"+file.ID+"/master.m3u8?container=avi", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "unsupported_container" {
		t.Errorf("expected unsupported_container, got %q", code)
	}
}

func TestHandleManifest_AbsentEncoderIs500(t *testing.T) {
	file := writeMediaFixture(t, "movie.mkv", 1000, -1)
	s := newHandlerTestServer(t, staticResolver{file.ID: file}, allowAll())

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/"+file.ID+"/master.m3u8", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "transcoder_not_found" {
		t.Errorf("expected transcoder_not_found, got %q", code)
	}
}

func TestHandleHLSArtifact_UnknownJobIs404(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, allowAll())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/item-1/hls/nope/seg-00000.ts", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleHLSArtifact_SegmentTokenServesSegment(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, denyAll())
	job, err := s.jobs.getOrCreate("item-1", "/m/movie.mkv", containerTS, "", "")
	if err != nil {
		t.Fatalf("getOrCreate failed: %v", err)
	}
	payload := []byte("segment-bytes")
	if err := os.WriteFile(filepath.Join(job.dir, "seg-00000.ts"), payload, 0o644); err != nil {
		t.Fatal(err)
	}
	tok, err := s.tokens.Issue(token.AudienceSegment, job.id)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/stream/item-1/hls/"+job.id+"/seg-00000.ts?token="+url.QueryEscape(tok), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != string(payload) {
		t.Errorf("unexpected segment body %q", rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("live output must not be cached, got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp2t" {
		t.Errorf("unexpected Content-Type %q", got)
	}
}

func TestHandleHLSArtifact_StaleJobIDFallsBackToItemJob(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, denyAll())
	job, err := s.jobs.getOrCreate("item-1", "/m/movie.mkv", containerTS, "", "")
	if err != nil {
		t.Fatalf("getOrCreate failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(job.dir, "seg-00001.ts"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tok, err := s.tokens.Issue(token.AudienceSegment, job.id)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/stream/item-1/hls/evicted-job-id/seg-00001.ts?token="+url.QueryEscape(tok), nil))

	if rec.Code != http.StatusOK {
		t.Errorf("stale job id with a live item job must still serve, got %d", rec.Code)
	}
}

func TestHandleHLSArtifact_TraversalNameIs404(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, allowAll())
	if _, err := s.jobs.getOrCreate("item-1", "/m/movie.mkv", containerTS, "", ""); err != nil {
		t.Fatalf("getOrCreate failed: %v", err)
	}
	job, _ := s.jobs.latestJobForItem("item-1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stream/item-1/hls/"+job.id+"/seg-00000.ts", nil)
	req.URL.Path = "/stream/item-1/hls/" + job.id + "/..%2Fsecrets.txt"
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for a traversal artifact name, got %d", rec.Code)
	}
}

func TestHandleEmergencyCleanup(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, allowAll())
	if _, err := s.jobs.getOrCreate("item-1", "/m/movie.mkv", containerTS, "", ""); err != nil {
		t.Fatalf("getOrCreate failed: %v", err)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stream/emergency-cleanup", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if _, ok := s.jobs.latestJobForItem("item-1"); ok {
		t.Error("cleanup must drop every registered job")
	}
}

func TestHandleEmergencyCleanup_GETNotAllowed(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, allowAll())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/emergency-cleanup", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandleEmergencyCleanup_RequiresSession(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, denyAll())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stream/emergency-cleanup", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandleVideosCompat_RoutesArtifact(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, allowAll())
	job, err := s.jobs.getOrCreate("item-1", "/m/movie.mkv", containerTS, "", "")
	if err != nil {
		t.Fatalf("getOrCreate failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(job.dir, "seg-00002.ts"), []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/Videos/item-1/hls/"+job.id+"/seg-00002.ts", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected the compat path to serve the segment, got %d", rec.Code)
	}
}

func TestHandleVideosCompat_UnknownRoute(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, allowAll())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/Videos/item-1/file", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("the compat family exposes only HLS routes, got %d", rec.Code)
	}
}

func TestHandleStream_UnknownRoute(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, allowAll())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/item-1/bogus", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newHandlerTestServer(t, staticResolver{}, denyAll())
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap jobHealthSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if snap.Status != "ok" {
		t.Errorf("unexpected status %q", snap.Status)
	}
}

func TestBuildRemuxArgs(t *testing.T) {
	args := strings.Join(buildRemuxArgs("/m/in.mkv", true, false, 1, "veryfast", 23, "128k"), " ")
	for _, want := range []string{"-c:v copy", "-c:a copy", "-map 0:a:1?", "-f mp4 pipe:1", "frag_keyframe+empty_moov"} {
		if !strings.Contains(args, want) {
			t.Errorf("copy args missing %q: %s", want, args)
		}
	}
	if strings.Contains(args, "libx264") {
		t.Error("copy path must not encode")
	}

	args = strings.Join(buildRemuxArgs("/m/in.mkv", false, true, 0, "veryfast", 23, "128k"), " ")
	for _, want := range []string{"-c:v libx264", "-crf 23", "-c:a aac", "-b:a 128k", "aresample=async=1:first_pts=0"} {
		if !strings.Contains(args, want) {
			t.Errorf("transcode args missing %q: %s", want, args)
		}
	}
}
