package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pagemark-io/pagemark/internal/api/httputil"
	middleware "github.com/pagemark-io/pagemark/internal/api/middlewares"
	"github.com/pagemark-io/pagemark/internal/core"
	"github.com/pagemark-io/pagemark/internal/core/ingest"
	objectclient "github.com/pagemark-io/pagemark/internal/core/object-client"
	"github.com/pagemark-io/pagemark/internal/models"
	"github.com/pagemark-io/pagemark/internal/platform/apierr"
	"github.com/pagemark-io/pagemark/internal/platform/logger"
)

const maxUploadBytes = 32 << 20

type DocumentHandler struct {
	db      core.DbClient
	obj     core.ObjectClient
	locator *objectclient.Locator
	ingest  *ingest.Coordinator
	log     *logger.Logger
}

func NewDocumentHandler(db core.DbClient, obj core.ObjectClient, locator *objectclient.Locator, ing *ingest.Coordinator, log *logger.Logger) *DocumentHandler {
	return &DocumentHandler{db: db, obj: obj, locator: locator, ingest: ing, log: log}
}

// UploadDocument stores the file, records the document as pending, and hands
// it to the background workers. The client polls GET /documents/{id} for
// status.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.WriteError(w, apierr.Validation("invalid multipart form"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, apierr.Validation("missing file field"))
		return
	}
	defer file.Close()

	docID := uuid.NewString()
	key := h.locator.DocumentKey(docID, header.Filename)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	url, err := h.obj.UploadFile(uploadCtx, h.locator.Bucket(), key, file, contentType)
	if err != nil {
		h.log.Error("object upload failed", "documentId", docID, "error", err)
		httputil.WriteError(w, apierr.Persistence(err))
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		base := filepath.Base(header.Filename)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	now := time.Now()
	doc := &models.Document{
		ID:          docID,
		UserID:      userID,
		Name:        name,
		FileName:    header.Filename,
		StorageURL:  url,
		SourceType:  "upload",
		ContentType: contentType,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.db.CreateDocument(uploadCtx, doc); err != nil {
		h.log.Error("document insert failed", "documentId", docID, "error", err)
		httputil.WriteError(w, apierr.Persistence(err))
		return
	}

	h.ingest.Enqueue(doc.ID)
	httputil.WriteJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	documents, err := h.db.ListDocumentsByUser(r.Context(), userID)
	if err != nil {
		h.log.Error("document list failed", "userId", userID, "error", err)
		httputil.WriteError(w, apierr.Persistence(err))
		return
	}
	if documents == nil {
		documents = []models.Document{}
	}
	httputil.WriteJSON(w, http.StatusOK, documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

// DownloadDocument streams the original uploaded file back to its owner.
func (h *DocumentHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if doc.SourceType != "upload" || doc.FileName == "" {
		httputil.WriteError(w, apierr.NotFound("document %s has no stored file", doc.ID))
		return
	}

	key := h.locator.DocumentKey(doc.ID, doc.FileName)
	body, err := h.obj.GetObjectReader(r.Context(), h.locator.Bucket(), key)
	if err != nil {
		h.log.Error("object fetch failed", "documentId", doc.ID, "error", err)
		httputil.WriteError(w, apierr.Persistence(err))
		return
	}
	defer body.Close()

	if doc.ContentType != "" {
		w.Header().Set("Content-Type", doc.ContentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	if _, err := io.Copy(w, body); err != nil {
		h.log.Warn("file download interrupted", "documentId", doc.ID, "error", err)
	}
}

type ingestRequest struct {
	Text string `json:"text"`
}

type ingestResponse struct {
	Success bool `json:"success"`
	*ingest.Report
}

// IngestDocument runs ingestion synchronously. With a text body the chunks
// are persisted unembedded for the resumable pass; without one the stored
// file goes through the full extract-chunk-embed run.
func (h *DocumentHandler) IngestDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req ingestRequest
	if err := httputil.DecodeJSON(w, r, maxUploadBytes, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, apierr.Validation("invalid request body"))
		return
	}

	var report *ingest.Report
	if strings.TrimSpace(req.Text) != "" {
		report, err = h.ingest.IngestText(r.Context(), doc.ID, req.Text)
	} else {
		report, err = h.ingest.ProcessOne(r.Context(), doc.ID)
	}
	if err != nil {
		h.log.Error("ingestion failed", "documentId", doc.ID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ingestResponse{Success: true, Report: report})
}

type embedResponse struct {
	Success bool `json:"success"`
	*ingest.PassReport
}

// EmbedNextBatch runs one resumable embedding pass. Callers poll until
// complete is true.
func (h *DocumentHandler) EmbedNextBatch(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	report, err := h.ingest.ProcessNextBatch(r.Context(), doc.ID)
	if err != nil {
		h.log.Error("embedding pass failed", "documentId", doc.ID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, embedResponse{Success: true, PassReport: report})
}

// UploadPageImage stores one rendered page under its deterministic key and
// upserts the page_images row.
func (h *DocumentHandler) UploadPageImage(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httputil.WriteError(w, apierr.Validation("invalid multipart form"))
		return
	}
	page, err := strconv.Atoi(r.FormValue("page"))
	if err != nil || page < 1 {
		httputil.WriteError(w, apierr.Validation("page must be a positive number"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, apierr.Validation("missing file field"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	uploadCtx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	key := h.locator.PageImageKey(doc.ID, page)
	if _, err := h.obj.UploadFile(uploadCtx, h.locator.Bucket(), key, file, contentType); err != nil {
		h.log.Error("page image upload failed", "documentId", doc.ID, "page", page, "error", err)
		httputil.WriteError(w, apierr.Persistence(err))
		return
	}

	img := &models.PageImage{
		DocumentID: doc.ID,
		PageNumber: page,
		URL:        h.locator.PublicURL(key),
		CreatedAt:  time.Now(),
	}
	if err := h.db.CreatePageImage(uploadCtx, img); err != nil {
		h.log.Error("page image insert failed", "documentId", doc.ID, "page", page, "error", err)
		httputil.WriteError(w, apierr.Persistence(err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, img)
}

func (h *DocumentHandler) ListPageImages(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ownedDocument(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	images, err := h.db.ListPageImages(r.Context(), doc.ID)
	if err != nil {
		h.log.Error("page image list failed", "documentId", doc.ID, "error", err)
		httputil.WriteError(w, apierr.Persistence(err))
		return
	}
	if images == nil {
		images = []models.PageImage{}
	}
	httputil.WriteJSON(w, http.StatusOK, images)
}

// ownedDocument loads the {documentID} route param and hides documents the
// caller does not own behind the same not-found error.
func (h *DocumentHandler) ownedDocument(r *http.Request) (*models.Document, error) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		return nil, apierr.New(http.StatusUnauthorized, "unauthorized", errors.New("missing user identity"))
	}
	docID := chi.URLParam(r, "documentID")
	if docID == "" {
		return nil, apierr.Validation("missing document id")
	}

	doc, err := h.db.GetDocumentByID(r.Context(), docID)
	if err != nil {
		return nil, apierr.Persistence(err)
	}
	if doc == nil || doc.UserID != userID {
		return nil, apierr.NotFound("document %s", docID)
	}
	return doc, nil
}
