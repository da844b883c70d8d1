package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	middleware "github.com/pagemark-io/pagemark/internal/api/middlewares"
	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

func docRouter(h *DocumentHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/api/documents/upload", h.UploadDocument)
	r.Get("/api/documents", h.GetDocuments)
	r.Get("/api/documents/{documentID}", h.GetDocument)
	r.Get("/api/documents/{documentID}/file", h.DownloadDocument)
	r.Post("/api/documents/{documentID}/ingest", h.IngestDocument)
	r.Post("/api/documents/{documentID}/embed", h.EmbedNextBatch)
	r.Post("/api/documents/{documentID}/pages", h.UploadPageImage)
	r.Get("/api/documents/{documentID}/pages", h.ListPageImages)
	return r
}

func authedRequest(method, target string, body io.Reader, userID string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func newDocHandler(db *stubDB) *DocumentHandler {
	emb := testEmbedder(&fixedEmbedder{vec: []float32{0.1, 0.2}})
	return NewDocumentHandler(db, nopObject{}, testLocator(), testCoordinator(db, emb), logger.NewNop())
}

func TestIngestDocumentWithText(t *testing.T) {
	db := newStubDB()
	db.docs["doc-1"] = userDoc("doc-1", "user-1", models.StatusPending)
	r := docRouter(newDocHandler(db))

	text := "--- Page 1 ---\nEvery creature rolls initiative once per combat."
	body := `{"text":"--- Page 1 ---\nEvery creature rolls initiative once per combat."}`
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/documents/doc-1/ingest", strings.NewReader(body), "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out struct {
		Success         bool `json:"success"`
		Chunks          int  `json:"chunks"`
		ExtractedLength int  `json:"extractedLength"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || out.Chunks != 1 {
		t.Fatalf("unexpected response: %+v", out)
	}
	if out.ExtractedLength != len(text) {
		t.Fatalf("extractedLength=%d want %d", out.ExtractedLength, len(text))
	}
	if db.replaced["doc-1"] != 1 {
		t.Fatalf("chunks persisted: %d", db.replaced["doc-1"])
	}
}

func TestIngestDocumentForeignOwner(t *testing.T) {
	db := newStubDB()
	db.docs["doc-1"] = userDoc("doc-1", "someone-else", models.StatusPending)
	r := docRouter(newDocHandler(db))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/documents/doc-1/ingest", strings.NewReader(`{"text":"hi"}`), "user-1"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestEmbedNextBatchReportsComplete(t *testing.T) {
	db := newStubDB()
	db.docs["doc-1"] = userDoc("doc-1", "user-1", models.StatusReady)
	r := docRouter(newDocHandler(db))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/documents/doc-1/embed", nil, "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out struct {
		Success   bool     `json:"success"`
		Complete  bool     `json:"complete"`
		Processed int      `json:"processed"`
		Remaining int      `json:"remaining"`
		Errors    []string `json:"errors"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Success || !out.Complete || out.Processed != 0 || out.Remaining != 0 {
		t.Fatalf("unexpected response: %+v", out)
	}
	if out.Errors == nil {
		t.Fatalf("errors must marshal as an empty array")
	}
}

func TestGetDocumentIsPollTarget(t *testing.T) {
	db := newStubDB()
	db.docs["doc-1"] = userDoc("doc-1", "user-1", models.StatusEmbedding)
	r := docRouter(newDocHandler(db))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/documents/doc-1", nil, "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var doc models.Document
	if err := json.NewDecoder(rr.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != models.StatusEmbedding {
		t.Fatalf("status=%q", doc.Status)
	}
}

func TestListPageImagesEmptyArray(t *testing.T) {
	db := newStubDB()
	db.docs["doc-1"] = userDoc("doc-1", "user-1", models.StatusReady)
	r := docRouter(newDocHandler(db))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/documents/doc-1/pages", nil, "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Fatalf("body=%q want []", got)
	}
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("field %s: %v", k, err)
		}
	}
	fw, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadDocumentAccepted(t *testing.T) {
	db := newStubDB()
	r := docRouter(newDocHandler(db))

	body, contentType := multipartBody(t, nil, "file", "rules.pdf", []byte("%PDF-1.4 fake"))
	req := authedRequest(http.MethodPost, "/api/documents/upload", body, "user-1")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var doc models.Document
	if err := json.NewDecoder(rr.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Status != models.StatusPending {
		t.Fatalf("status=%q want pending", doc.Status)
	}
	if doc.Name != "rules" || doc.FileName != "rules.pdf" {
		t.Fatalf("name=%q file=%q", doc.Name, doc.FileName)
	}
	if !strings.Contains(doc.StorageURL, "documents/"+doc.ID+"/rules.pdf") {
		t.Fatalf("storage url %q not keyed by document id", doc.StorageURL)
	}
	if db.docs[doc.ID] == nil {
		t.Fatalf("document row not stored")
	}
}

func TestUploadPageImage(t *testing.T) {
	db := newStubDB()
	db.docs["doc-1"] = userDoc("doc-1", "user-1", models.StatusReady)
	r := docRouter(newDocHandler(db))

	body, contentType := multipartBody(t, map[string]string{"page": "3"}, "file", "page-3.png", []byte("png bytes"))
	req := authedRequest(http.MethodPost, "/api/documents/doc-1/pages", body, "user-1")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	images := db.images["doc-1"]
	if len(images) != 1 {
		t.Fatalf("images stored: %d", len(images))
	}
	if images[0].PageNumber != 3 {
		t.Fatalf("page=%d", images[0].PageNumber)
	}
	if images[0].URL != "https://cdn.test/documents/doc-1/pages/page-3.png" {
		t.Fatalf("url=%q", images[0].URL)
	}
}

// sealedObject serves one stored blob by key on top of nopObject.
type sealedObject struct {
	nopObject
	key  string
	data []byte
}

func (s sealedObject) GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if key != s.key {
		return nil, fmt.Errorf("not stored: %s", key)
	}
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func TestDownloadDocumentStreamsFile(t *testing.T) {
	db := newStubDB()
	doc := userDoc("doc-1", "user-1", models.StatusReady)
	doc.ContentType = "application/pdf"
	db.docs["doc-1"] = doc

	obj := sealedObject{key: "documents/doc-1/rules.pdf", data: []byte("%PDF-1.4 fake")}
	emb := testEmbedder(&fixedEmbedder{vec: []float32{0.1, 0.2}})
	h := NewDocumentHandler(db, obj, testLocator(), testCoordinator(db, emb), logger.NewNop())
	r := docRouter(h)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/documents/doc-1/file", nil, "user-1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("content type=%q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "rules.pdf") {
		t.Fatalf("disposition=%q", got)
	}
	if rr.Body.String() != "%PDF-1.4 fake" {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestDownloadDocumentTextSourceHasNoFile(t *testing.T) {
	db := newStubDB()
	doc := userDoc("doc-1", "user-1", models.StatusReady)
	doc.SourceType = "text"
	doc.FileName = ""
	db.docs["doc-1"] = doc
	r := docRouter(newDocHandler(db))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/documents/doc-1/file", nil, "user-1"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestUploadPageImageRejectsBadPage(t *testing.T) {
	db := newStubDB()
	db.docs["doc-1"] = userDoc("doc-1", "user-1", models.StatusReady)
	r := docRouter(newDocHandler(db))

	body, contentType := multipartBody(t, map[string]string{"page": "zero"}, "file", "x.png", []byte("png"))
	req := authedRequest(http.MethodPost, "/api/documents/doc-1/pages", body, "user-1")
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}
