package app

import (
	"net/http"
	"strconv"
	"time"

	"helppages/api/internal/export"
)

func (s *HTTPServer) handlePages(w http.ResponseWriter, r *http.Request, session Session, pageID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			page, err := s.service.GetPage(ctx, session, pageID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, page)
		case http.MethodPut:
			var body SavePageInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			page, err := s.service.SavePage(ctx, session, pageID, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, page)
		case http.MethodDelete:
			if err := s.service.DeletePage(ctx, session, pageID); err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 1 && parts[0] == "autosave" && r.Method == http.MethodPut {
		var body AutosaveInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.AutosavePage(ctx, session, pageID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodPost && (parts[0] == "publish" || parts[0] == "unpublish") {
		var (
			page map[string]any
			err  error
		)
		if parts[0] == "publish" {
			page, err = s.service.PublishPage(ctx, session, pageID)
		} else {
			page, err = s.service.UnpublishPage(ctx, session, pageID)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	if len(parts) == 1 && parts[0] == "schedule" {
		switch r.Method {
		case http.MethodPut:
			var body struct {
				PublishAt *time.Time `json:"publishAt"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if body.PublishAt == nil {
				s.fail(w, r, validationError("publishAt", "publishAt is required"))
				return
			}
			page, err := s.service.SchedulePublish(ctx, session, pageID, *body.PublishAt)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, page)
			return
		case http.MethodDelete:
			page, err := s.service.CancelSchedule(ctx, session, pageID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, page)
			return
		}
	}

	if len(parts) == 1 && parts[0] == "export" && r.Method == http.MethodGet {
		query := r.URL.Query()
		format := export.Format(query.Get("format"))
		if format == "" {
			format = export.FormatMarkdown
		}
		result, err := s.service.ExportPage(ctx, session, pageID, format, export.Source(query.Get("source")))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeExport(w, result)
		return
	}

	if len(parts) >= 1 && parts[0] == "revisions" {
		s.handleRevisions(w, r, session, pageID, parts[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleRevisions(w http.ResponseWriter, r *http.Request, session Session, pageID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 && r.Method == http.MethodGet {
		revisions, err := s.service.ListRevisions(ctx, session, pageID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
		return
	}

	if len(parts) == 1 && parts[0] == "compare" && r.Method == http.MethodGet {
		from, errFrom := strconv.Atoi(r.URL.Query().Get("from"))
		to, errTo := strconv.Atoi(r.URL.Query().Get("to"))
		if errFrom != nil || errTo != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "from and to must be revision numbers", nil)
			return
		}
		diff, err := s.service.CompareRevisions(ctx, session, pageID, from, to)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, diff)
		return
	}

	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	number, err := strconv.Atoi(parts[0])
	if err != nil || number < 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Revision not found", nil)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		revision, err := s.service.GetRevision(ctx, session, pageID, number)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, revision)
		return
	}

	if len(parts) == 2 && parts[1] == "restore" && r.Method == http.MethodPost {
		page, err := s.service.RestoreRevision(ctx, session, pageID, number)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}
