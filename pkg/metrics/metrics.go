// Package metrics keeps in-process counters for the validator service and
// serves them as a JSON snapshot. Counters never feed back into reports;
// canonical output stays clock- and counter-free.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
)

type Registry struct {
	mu          sync.RWMutex
	states      map[string]int64
	errorCodes  map[string]int64
	checkStatus map[string]int64
	parseIssues int64
	validations int64
	verifyRuns  int64
}

type Snapshot struct {
	Validations int64            `json:"validations_total"`
	VerifyRuns  int64            `json:"verify_runs_total"`
	ParseIssues int64            `json:"parse_issues_total"`
	States      map[string]int64 `json:"states"`
	ErrorCodes  map[string]int64 `json:"error_codes"`
	CheckStatus map[string]int64 `json:"check_statuses"`
}

func NewRegistry() *Registry {
	return &Registry{
		states:      map[string]int64{},
		errorCodes:  map[string]int64{},
		checkStatus: map[string]int64{},
	}
}

// RecordValidation counts one validation run by final state and error codes.
func (r *Registry) RecordValidation(state string, errorCodes []string, parseIssues int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations++
	r.states[state]++
	for _, code := range errorCodes {
		r.errorCodes[code]++
	}
	r.parseIssues += int64(parseIssues)
}

// RecordVerification counts one verification run and its per-check statuses.
func (r *Registry) RecordVerification(state string, checkStatuses []string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifyRuns++
	r.states[state]++
	for _, s := range checkStatuses {
		r.checkStatus[s]++
	}
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		Validations: r.validations,
		VerifyRuns:  r.verifyRuns,
		ParseIssues: r.parseIssues,
		States:      map[string]int64{},
		ErrorCodes:  map[string]int64{},
		CheckStatus: map[string]int64{},
	}
	for k, v := range r.states {
		snap.States[k] = v
	}
	for k, v := range r.errorCodes {
		snap.ErrorCodes[k] = v
	}
	for k, v := range r.checkStatus {
		snap.CheckStatus[k] = v
	}
	return snap
}

// Handler serves the snapshot as JSON.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Snapshot())
	}
}
