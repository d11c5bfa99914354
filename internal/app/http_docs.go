package app

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"helppages/api/internal/assets"
	"helppages/api/internal/export"
)

func (s *HTTPServer) handleDocs(w http.ResponseWriter, r *http.Request, session Session, docID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDoc(ctx, session, docID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodPut:
			var body UpdateDocInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			doc, err := s.service.UpdateDoc(ctx, session, docID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			if err := s.service.DeleteDoc(ctx, session, docID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[0] {
	case "publish", "unpublish":
		if r.Method != http.MethodPost || len(parts) != 1 {
			break
		}
		var (
			doc map[string]any
			err error
		)
		if parts[0] == "publish" {
			doc, err = s.service.PublishDoc(ctx, session, docID)
		} else {
			doc, err = s.service.UnpublishDoc(ctx, session, docID)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	case "members":
		s.handleMembers(w, r, session, docID, parts[1:])
		return
	case "nav":
		s.handleNav(w, r, session, docID, parts[1:])
		return
	case "pages":
		if len(parts) != 1 {
			break
		}
		switch r.Method {
		case http.MethodGet:
			pages, err := s.service.ListPages(ctx, session, docID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
			return
		case http.MethodPost:
			var body CreatePageInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			page, err := s.service.CreatePage(ctx, session, docID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, page)
			return
		}
	case "preview":
		if r.Method != http.MethodPost || len(parts) != 1 {
			break
		}
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		preview, err := s.service.PreviewMarkdown(ctx, session, docID, body.Content)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
		return
	case "import":
		if r.Method != http.MethodPost || len(parts) != 1 {
			break
		}
		src, err := io.ReadAll(io.LimitReader(r.Body, maxContentLength+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
			return
		}
		if len(src) > maxContentLength {
			writeError(w, http.StatusRequestEntityTooLarge, "CONTENT_TOO_LARGE", "Markdown is limited to 1 MiB", nil)
			return
		}
		page, err := s.service.ImportPage(ctx, session, docID, src)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, page)
		return
	case "export":
		if r.Method != http.MethodGet || len(parts) != 1 {
			break
		}
		query := r.URL.Query()
		result, err := s.service.ExportDoc(ctx, session, docID, export.Format(query.Get("format")), export.Source(query.Get("source")))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeExport(w, result)
		return
	case "history":
		if r.Method != http.MethodGet {
			break
		}
		if len(parts) == 2 {
			snapshot, err := s.service.HistorySnapshot(ctx, session, docID, parts[1])
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, snapshot)
			return
		}
		if len(parts) != 1 {
			break
		}
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
			return
		}
		commits, err := s.service.History(ctx, session, docID, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
		return
	case "assets":
		s.handleAssets(w, r, session, docID, parts[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleMembers(w http.ResponseWriter, r *http.Request, session Session, docID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 && r.Method == http.MethodGet {
		members, err := s.service.ListMembers(ctx, session, docID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, members)
		return
	}

	if len(parts) == 0 && r.Method == http.MethodPost {
		var body struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		member, err := s.service.AddMember(ctx, session, docID, body.Email, body.Role)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, member)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodPut {
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		member, err := s.service.UpdateMemberRole(ctx, session, docID, parts[0], body.Role)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, member)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.RemoveMember(ctx, session, docID, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleNav(w http.ResponseWriter, r *http.Request, session Session, docID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 && r.Method == http.MethodGet {
		nav, err := s.service.GetNav(ctx, session, docID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nav)
		return
	}

	if len(parts) == 1 && parts[0] == "order" && r.Method == http.MethodPut {
		var body struct {
			Moves []NavMoveInput `json:"moves"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		nav, err := s.service.ReorderNav(ctx, session, docID, body.Moves)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, nav)
		return
	}

	if len(parts) >= 1 && parts[0] == "sections" {
		switch {
		case len(parts) == 1 && r.Method == http.MethodPost:
			var body SectionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			section, err := s.service.CreateSection(ctx, session, docID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, section)
			return
		case len(parts) == 2 && r.Method == http.MethodPut:
			var body SectionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			section, err := s.service.UpdateSection(ctx, session, docID, parts[1], body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, section)
			return
		case len(parts) == 2 && r.Method == http.MethodDelete:
			if err := s.service.DeleteSection(ctx, session, docID, parts[1]); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	if len(parts) >= 1 && parts[0] == "items" {
		switch {
		case len(parts) == 1 && r.Method == http.MethodPost:
			var body ItemInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.CreateItem(ctx, session, docID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, item)
			return
		case len(parts) == 2 && r.Method == http.MethodPut:
			var body ItemInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.UpdateItem(ctx, session, docID, parts[1], body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, item)
			return
		case len(parts) == 2 && r.Method == http.MethodDelete:
			if err := s.service.DeleteItem(ctx, session, docID, parts[1]); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleAssets(w http.ResponseWriter, r *http.Request, session Session, docID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 && r.Method == http.MethodGet {
		list, err := s.service.ListAssets(ctx, session, docID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assets": list})
		return
	}

	if len(parts) == 0 && r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, assets.MaxSize+1<<20)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.fail(w, r, assets.ErrTooLarge)
				return
			}
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected a multipart form", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "missing file field", nil)
			return
		}
		defer file.Close()
		asset, err := s.service.UploadAsset(ctx, session, docID, header.Filename, file, header.Size)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, asset)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodDelete {
		if err := s.service.DeleteAsset(ctx, session, docID, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func writeExport(w http.ResponseWriter, result *export.Result) {
	header := w.Header()
	header.Set("Content-Type", result.MimeType)
	header.Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	header.Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}
