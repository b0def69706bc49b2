package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/eventflow/engine"
	"github.com/liamcoop/eventflow/event"
	"github.com/liamcoop/eventflow/metrics"
)

// maxWebhookBody bounds webhook request bodies, files included.
const maxWebhookBody = 32 << 20

type ingestRequest struct {
	Name          string         `json:"name"`
	Group         string         `json:"group"`
	Source        string         `json:"source"`
	Topic         string         `json:"topic"`
	Payload       map[string]any `json:"payload"`
	CorrelationID string         `json:"correlationId"`
}

type ingestResponse struct {
	EventID          string   `json:"eventId"`
	TriggeredRuleIDs []string `json:"triggeredRuleIds"`
}

func (s *Server) projectEngine(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	project := chi.URLParam(r, "project")
	e, err := s.manager.Engine(r.Context(), project)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return e, true
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.runPipeline(w, r, e, event.RawInput{
		Name:          req.Name,
		Group:         req.Group,
		Source:        req.Source,
		Topic:         req.Topic,
		Payload:       req.Payload,
		CorrelationID: req.CorrelationID,
	})
}

// handleWebhook accepts raw JSON or multipart form data. Multipart
// files are written under the project's upload directory and
// referenced by filename in the event payload.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}
	project := chi.URLParam(r, "project")
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	in := event.RawInput{
		Name:    "Webhook Received",
		Group:   "Webhook",
		Source:  "webhook",
		Payload: map[string]any{},
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		if err := s.webhookMultipart(r, project, &in); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &in.Payload); err != nil {
				respondError(w, http.StatusBadRequest, "payload must be a JSON object")
				return
			}
		}
	}

	if name, ok := in.Payload["name"].(string); ok && name != "" {
		in.Name = name
	}
	if topic, ok := in.Payload["topic"].(string); ok {
		in.Topic = topic
	}

	s.runPipeline(w, r, e, in)
}

func (s *Server) webhookMultipart(r *http.Request, project string, in *event.RawInput) error {
	if err := r.ParseMultipartForm(maxWebhookBody); err != nil {
		return fmt.Errorf("invalid multipart body")
	}

	for key, vals := range r.MultipartForm.Value {
		if len(vals) > 0 {
			in.Payload[key] = vals[0]
		}
	}

	var saved []string
	for _, headers := range r.MultipartForm.File {
		for _, hdr := range headers {
			name, err := s.saveUpload(project, hdr)
			if err != nil {
				return err
			}
			saved = append(saved, name)
		}
	}
	if len(saved) > 0 {
		in.Payload["files"] = saved
	}
	return nil
}

// saveUpload writes one multipart file into the project's upload
// directory. Both the project and the filename are reduced to base
// names so crafted values cannot escape the directory.
func (s *Server) saveUpload(project string, hdr *multipart.FileHeader) (string, error) {
	name := filepath.Base(hdr.Filename)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("invalid filename %q", hdr.Filename)
	}
	dir := filepath.Join(s.uploadDir, filepath.Base(project))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	src, err := hdr.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", name, err)
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("save upload %s: %w", name, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("save upload %s: %w", name, err)
	}
	return name, nil
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request, e *engine.Engine, in event.RawInput) {
	project := chi.URLParam(r, "project")

	ev, err := event.Normalize(project, in)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.EventsIngested.WithLabelValues(ev.Group).Inc()

	results, err := e.EvaluateEvent(r.Context(), ev)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	triggered := []string{}
	for _, res := range results {
		if res.Success {
			triggered = append(triggered, res.RuleID)
		}
	}
	respondJSON(w, http.StatusOK, ingestResponse{EventID: ev.ID, TriggeredRuleIDs: triggered})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := e.Events().Search(r.Context(), query, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "start must be RFC 3339")
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "end must be RFC 3339")
		return
	}

	events, err := e.Events().ByDateRange(r.Context(), start, end)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := e.Events().Latest(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}
