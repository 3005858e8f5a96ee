package app

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"sircharge/admin/internal/assets"
	"sircharge/admin/internal/export"
	"sircharge/admin/internal/search"
	"sircharge/admin/internal/store"
)

// maxImportBytes bounds a vocabulary CSV upload.
const maxImportBytes = 10 << 20

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request, _ Session) {
	overview, err := s.service.Overview(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, _ Session) {
	q := r.URL.Query()
	filterType, ok := search.ParseResultType(q.Get("type"))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be vocabulary or user", nil)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.service.Search(r.Context(), search.Query{
		Text:       q.Get("q"),
		FilterType: filterType,
		Language:   q.Get("language"),
		Limit:      limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleUsageAnalytics(w http.ResponseWriter, r *http.Request, _ Session) {
	q, err := rangeQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.service.UsageAnalytics(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleFeatureAnalytics(w http.ResponseWriter, r *http.Request, _ Session) {
	q, err := rangeQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	features, err := s.service.FeatureAnalytics(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": features})
}

func (s *HTTPServer) handleBehaviorAnalytics(w http.ResponseWriter, r *http.Request, _ Session) {
	q, err := rangeQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	weeks, err := queryInt(r, "weeks")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.service.BehaviorAnalytics(r.Context(), q, weeks)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handlePromptAnalytics(w http.ResponseWriter, r *http.Request, _ Session) {
	q, err := rangeQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.service.PromptAnalytics(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": stats})
}

func (s *HTTPServer) handlePromptSeries(w http.ResponseWriter, r *http.Request, _ Session) {
	q, err := rangeQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	points, err := s.service.PromptSeries(r.Context(), mux.Vars(r)["id"], q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"series": points})
}

// handleExport buffers the CSV so a failure can still answer with JSON.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, _ Session) {
	kind, err := export.ParseKind(mux.Vars(r)["file"])
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Unknown export", nil)
		return
	}
	q, err := rangeQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := s.service.Export(r.Context(), kind, q, &buf); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": export.Filename(kind, s.service.now()),
	}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleListPrompts(w http.ResponseWriter, r *http.Request, _ Session) {
	includeArchived := r.URL.Query().Get("archived") == "true"
	items, err := s.service.ListPrompts(r.Context(), includeArchived)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreatePrompt(w http.ResponseWriter, r *http.Request, session Session) {
	var body PromptInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	cfg, err := s.service.CreatePrompt(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *HTTPServer) handleGetPrompt(w http.ResponseWriter, r *http.Request, _ Session) {
	detail, err := s.service.GetPrompt(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *HTTPServer) handleSavePrompt(w http.ResponseWriter, r *http.Request, session Session) {
	var body PromptInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	version, err := s.service.SavePromptVersion(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": version})
}

func (s *HTTPServer) handleArchivePrompt(w http.ResponseWriter, r *http.Request, _ Session) {
	if err := s.service.ArchivePrompt(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListPromptVersions(w http.ResponseWriter, r *http.Request, _ Session) {
	items, err := s.service.ListPromptVersions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleGetPromptVersion(w http.ResponseWriter, r *http.Request, _ Session) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	detail, err := s.service.GetPromptVersion(r.Context(), vars["id"], version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *HTTPServer) handleDiffPrompt(w http.ResponseWriter, r *http.Request, _ Session) {
	from, err := queryInt(r, "from")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryInt(r, "to")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	diff, err := s.service.DiffPromptVersions(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *HTTPServer) handleActivatePrompt(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		Version int `json:"version"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	cfg, err := s.service.ActivatePromptVersion(r.Context(), mux.Vars(r)["id"], body.Version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *HTTPServer) handleListTiers(w http.ResponseWriter, r *http.Request, _ Session) {
	items, err := s.service.ListTiers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateTier(w http.ResponseWriter, r *http.Request, _ Session) {
	var body TierInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	tier, err := s.service.CreateTier(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tier)
}

func (s *HTTPServer) handleUpdateTier(w http.ResponseWriter, r *http.Request, _ Session) {
	var body TierInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	tier, err := s.service.UpdateTier(r.Context(), mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tier)
}

func (s *HTTPServer) handleDeleteTier(w http.ResponseWriter, r *http.Request, _ Session) {
	if err := s.service.DeleteTier(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request, _ Session) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.service.ListUsers(r.Context(), store.UserFilter{
		Search: q.Get("search"),
		TierID: q.Get("tier"),
		Status: q.Get("status"),
		Role:   q.Get("role"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleCreateOperator(w http.ResponseWriter, r *http.Request, _ Session) {
	var body CreateOperatorInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, password, err := s.service.CreateOperator(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":              userView(user),
		"temporaryPassword": password,
	})
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request, _ Session) {
	detail, err := s.service.GetUserDetail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *HTTPServer) handleUpdateUserRole(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.UpdateUserRole(r.Context(), session, mux.Vars(r)["id"], body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleUpdateUserStatus(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.UpdateUserStatus(r.Context(), session, mux.Vars(r)["id"], body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleUpdateUserTier(w http.ResponseWriter, r *http.Request, _ Session) {
	var body struct {
		TierID string `json:"tierId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.UpdateUserTier(r.Context(), mux.Vars(r)["id"], body.TierID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleListOverrides(w http.ResponseWriter, r *http.Request, _ Session) {
	items, err := s.service.ListOverrides(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreateOverride(w http.ResponseWriter, r *http.Request, session Session) {
	var body OverrideInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	override, err := s.service.CreateOverride(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, override)
}

func (s *HTTPServer) handleDeleteOverride(w http.ResponseWriter, r *http.Request, _ Session) {
	vars := mux.Vars(r)
	if err := s.service.DeleteOverride(r.Context(), vars["id"], vars["overrideId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request, _ Session) {
	q := r.URL.Query()
	rq, err := rangeQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.service.ListNotifications(r.Context(), store.NotificationFilter{
		UserID:  q.Get("userId"),
		Channel: q.Get("channel"),
		Status:  q.Get("status"),
		From:    rq.From,
		To:      rq.To,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleNotificationStats(w http.ResponseWriter, r *http.Request, _ Session) {
	rq, err := rangeQuery(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.service.NotificationStats(r.Context(), rq.From, rq.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleSendNotification(w http.ResponseWriter, r *http.Request, session Session) {
	var body SendNotificationInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.SendNotification(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleListVocabulary(w http.ResponseWriter, r *http.Request, _ Session) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.service.ListVocabulary(r.Context(), store.VocabularyFilter{
		Language: strings.ToLower(strings.TrimSpace(q.Get("language"))),
		Category: strings.ToLower(strings.TrimSpace(q.Get("category"))),
		Limit:    limit,
		Offset:   offset,
	}, q.Get("q"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleCreateVocabulary(w http.ResponseWriter, r *http.Request, _ Session) {
	var body VocabularyInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.CreateVocabularyTerm(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleUpdateVocabulary(w http.ResponseWriter, r *http.Request, _ Session) {
	var body VocabularyInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.UpdateVocabularyTerm(r.Context(), mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteVocabulary(w http.ResponseWriter, r *http.Request, _ Session) {
	if err := s.service.DeleteVocabularyTerm(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleImportVocabulary takes a multipart "file" part or a raw text/csv body.
func (s *HTTPServer) handleImportVocabulary(w http.ResponseWriter, r *http.Request, _ Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var src io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a CSV file in the \"file\" field", nil)
			return
		}
		defer file.Close()
		src = file
	}

	result, err := s.service.ImportVocabulary(r.Context(), src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "CSV file is too large", nil)
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleListContent(w http.ResponseWriter, r *http.Request, _ Session) {
	q := r.URL.Query()
	items, err := s.service.ListContent(r.Context(), store.ContentFilter{
		Locale:  strings.ToLower(strings.TrimSpace(q.Get("locale"))),
		Section: strings.ToLower(strings.TrimSpace(q.Get("section"))),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleGetContent(w http.ResponseWriter, r *http.Request, _ Session) {
	item, err := s.service.GetContent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleCreateContent(w http.ResponseWriter, r *http.Request, session Session) {
	var body ContentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.CreateContent(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *HTTPServer) handleUpdateContent(w http.ResponseWriter, r *http.Request, session Session) {
	var body ContentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	item, err := s.service.UpdateContent(r.Context(), session, mux.Vars(r)["id"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDeleteContent(w http.ResponseWriter, r *http.Request, _ Session) {
	if err := s.service.DeleteContent(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handlePublishContent(published bool) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, session Session) {
		item, err := s.service.SetContentPublished(r.Context(), session, mux.Vars(r)["id"], published)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (s *HTTPServer) handleUploadContentImage(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, assets.MaxSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(w, r, assets.ErrTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected an image in the \"file\" field", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename)))
	}
	item, err := s.service.UploadContentImage(r.Context(), session, mux.Vars(r)["id"], contentType, file, header.Size)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
