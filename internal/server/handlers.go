package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/txsentry/txsentry/internal/classifier"
	"github.com/txsentry/txsentry/internal/evidence"
	"github.com/txsentry/txsentry/internal/policy"
	"github.com/txsentry/txsentry/internal/requestctx"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime":         time.Since(s.startTime).String(),
		"policy_version": s.pipeline.PolicyVersion(),
	})
}

type decisionRequest struct {
	SenderRole string          `json:"sender_role"`
	Text       string          `json:"text"`
	Plan       json.RawMessage `json:"plan,omitempty"`
}

type decisionResponse struct {
	AuditID    string                 `json:"audit_id"`
	Result     policy.Result          `json:"result"`
	Violations []policy.RuleViolation `json:"violations,omitempty"`
	Plan       json.RawMessage        `json:"plan,omitempty"`
}

// handleDecision runs one guardrail decision. The response shape depends on
// the verdict: ALLOW echoes the validated plan for forwarding, BLOCK names
// the violated rules, REFUSE carries the result and audit reference only.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	role := classifier.SenderRole(req.SenderRole)
	switch role {
	case classifier.RoleOwner, classifier.RoleAdversary, classifier.RoleUnknown:
	case "":
		role = classifier.RoleUnknown
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown sender_role")
		return
	}

	msg := classifier.RawMessage{
		SenderRole: role,
		OwnerID:    requestctx.OwnerID(r.Context()),
		Text:       req.Text,
		ReceivedAt: time.Now().UTC(),
	}

	out, err := s.pipeline.Run(r.Context(), msg, req.Plan)
	if err != nil {
		log.Error().Err(err).Msg("decision failed")
		writeError(w, http.StatusInternalServerError, "internal", "decision could not be completed")
		return
	}

	resp := decisionResponse{
		AuditID: out.Audit.ID,
		Result:  out.Verdict.Result,
	}
	switch out.Verdict.Result {
	case policy.ResultAllow:
		plan, err := json.Marshal(out.Plan)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "encoding plan")
			return
		}
		resp.Plan = plan
	case policy.ResultBlock:
		resp.Violations = out.Verdict.RuleViolations
	case policy.ResultRefuse:
		// No detail: a refusal must not echo or describe the triggering
		// content.
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	filter := evidence.Filter{Limit: 100}

	if res := r.URL.Query().Get("result"); res != "" {
		filter.Result = policy.Result(res)
	}
	if inputID := r.URL.Query().Get("input_id"); inputID != "" {
		filter.InputID = inputID
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be 1-1000")
			return
		}
		filter.Limit = limit
	}

	records, err := s.auditStore.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.auditStore.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "audit record not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.auditStore.Verify(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "audit record not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    id,
		"valid": ok,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.auditStore.CountByResult(r.Context(), time.Now().Add(-24*time.Hour), time.Time{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":          time.Since(s.startTime).String(),
		"policy_version":  s.pipeline.PolicyVersion(),
		"evaluation_mode": s.pipeline.EvaluationMode(),
		"decisions_24h": map[string]int{
			"allow":  counts[policy.ResultAllow],
			"block":  counts[policy.ResultBlock],
			"refuse": counts[policy.ResultRefuse],
		},
	})
}
