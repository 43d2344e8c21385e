package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/shineum/mailhits/internal/provider"
)

func (s *Server) listEmails(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.config.Store.List())
}

func (s *Server) clearEmails(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	s.config.Store.Clear()
	slog.Info("all messages cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getEmail(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	msg, ok := s.config.Store.Get(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) deleteEmail(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if !s.config.Store.Delete(id) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	slog.Info("message deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getAttachment(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	msg, ok := s.config.Store.Get(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	att, ok := msg.Attachment(ps.ByName("attachment"))
	if !ok || att.Data == nil {
		writeError(w, http.StatusNotFound, "attachment not found")
		return
	}

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(att.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(att.Data)
}

func (s *Server) getSource(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	msg, ok := s.config.Store.Get(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	w.Header().Set("Content-Type", "message/rfc822")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": msg.ID + ".eml"}))
	w.Header().Set("Content-Length", strconv.Itoa(len(msg.Source)))
	w.WriteHeader(http.StatusOK)
	w.Write(msg.Source)
}

// releaseRequest optionally overrides the recipients of a release.
type releaseRequest struct {
	To []string `json:"to"`
}

type releaseResponse struct {
	ID       string   `json:"id"`
	Provider string   `json:"provider"`
	To       []string `json:"to"`
}

// releaseEmail forwards a captured message through the configured provider.
// Without a request body the captured envelope recipients are used.
func (s *Server) releaseEmail(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.config.Provider == nil {
		writeError(w, http.StatusNotImplemented, "no release provider configured")
		return
	}

	msg, ok := s.config.Store.Get(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		var req releaseRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid release request: "+err.Error())
			return
		}
		if req.To != nil {
			msg.To = req.To
		}
	}

	if len(msg.To) == 0 {
		writeError(w, http.StatusBadRequest, provider.ErrNoRecipients.Error())
		return
	}

	if err := s.config.Provider.Send(r.Context(), msg); err != nil {
		if errors.Is(err, provider.ErrNoRecipients) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Warn("release failed",
			"id", msg.ID,
			"provider", s.config.Provider.Name(),
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "release failed: "+err.Error())
		return
	}

	slog.Info("message released",
		"id", msg.ID,
		"provider", s.config.Provider.Name(),
		"recipients", len(msg.To),
	)
	writeJSON(w, http.StatusAccepted, releaseResponse{
		ID:       msg.ID,
		Provider: s.config.Provider.Name(),
		To:       msg.To,
	})
}
