package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/smarthome-core/internal/automation"
	"github.com/nerrad567/smarthome-core/internal/home"
)

// maxFiringsLimit caps the limit query parameter of the firings endpoint.
const maxFiringsLimit = 500

// passFailure is the JSON form of one failed action in an evaluation pass.
type passFailure struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name"`
	Error    string `json:"error"`
}

// evaluateResponse is returned by POST /rules/evaluate.
type evaluateResponse struct {
	automation.PassResult
	Failures []passFailure `json:"failures"`
}

// handleListRules returns every rule in registration order.
func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rules := s.home.ListRules()
	infos := make([]automation.RuleInfo, 0, len(rules))
	for _, r := range rules {
		infos = append(infos, r.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": infos, "count": len(infos)})
}

// handleListFirings returns the most recent rule firings, newest first.
//
// Query parameters:
//   - limit: number of firings to return (1..500, default 50)
func (s *Server) handleListFirings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxFiringsLimit {
			writeBadRequest(w, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	firings, err := s.home.History(r.Context(), limit)
	if err != nil {
		if errors.Is(err, home.ErrHistoryUnavailable) {
			writeUnavailable(w, "rule firing history is not available")
			return
		}
		s.logger.Error("listing rule firings failed", "error", err)
		writeInternalError(w, "failed to list rule firings")
		return
	}
	if firings == nil {
		firings = []automation.Firing{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"firings": firings, "count": len(firings)})
}

// handleEvaluateRules runs one monitor pass immediately and reports it.
// Action failures are part of the report, not an error response.
func (s *Server) handleEvaluateRules(w http.ResponseWriter, r *http.Request) {
	res := s.home.Evaluate(r.Context())

	resp := evaluateResponse{
		PassResult: res,
		Failures:   make([]passFailure, 0, len(res.Failures)),
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, passFailure{
			RuleID:   f.RuleID,
			RuleName: f.RuleName,
			Error:    f.Cause.Error(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
