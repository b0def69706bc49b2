package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/liamcoop/eventflow/condition"
	"github.com/liamcoop/eventflow/rules"
)

// ruleRequest is the create/update body. Pointer fields distinguish
// "absent" from zero so PUT can merge partially.
type ruleRequest struct {
	Name      string               `json:"name"`
	Enabled   *bool                `json:"enabled"`
	Condition *condition.Condition `json:"condition"`
	Action    *rules.Action        `json:"action"`
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule := &rules.Rule{
		ProjectID: chi.URLParam(r, "project"),
		Name:      req.Name,
		Enabled:   true,
		Condition: req.Condition,
		Action:    req.Action,
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := e.AddRule(r.Context(), rule); err != nil {
		s.respondRuleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}

	list, err := e.ListRules(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": list})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}

	rule, err := e.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		s.respondRuleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// handleUpdateRule merges the provided fields onto the stored rule, so
// a body of {"enabled": false} flips the flag without restating the
// condition or action.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}

	rule, err := e.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		s.respondRuleError(w, err)
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if req.Condition != nil {
		rule.Condition = req.Condition
	}
	if req.Action != nil {
		rule.Action = req.Action
	}

	if err := e.UpdateRule(r.Context(), rule); err != nil {
		s.respondRuleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}

	if err := e.DeleteRule(r.Context(), chi.URLParam(r, "ruleId")); err != nil {
		s.respondRuleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEventGroups(w http.ResponseWriter, r *http.Request) {
	e, ok := s.projectEngine(w, r)
	if !ok {
		return
	}

	groups, err := e.EventGroups(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// respondRuleError maps rule-layer errors onto status codes: missing
// rules are 404, validation failures are the caller's fault, anything
// else is a store failure.
func (s *Server) respondRuleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rules.ErrNotFound):
		respondError(w, http.StatusNotFound, "rule not found")
	case errors.Is(err, rules.ErrInvalid):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
