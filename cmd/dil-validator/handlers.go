package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cart144/dil/pkg/dsl"
	"github.com/cart144/dil/pkg/httpx"
	"github.com/cart144/dil/pkg/models"
	"github.com/cart144/dil/pkg/receiptbus"
	"github.com/cart144/dil/pkg/report"
	"github.com/cart144/dil/pkg/rules"
	"github.com/cart144/dil/pkg/store"
	"github.com/cart144/dil/pkg/stream"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

const exitCodeHeader = "X-DIL-Exit-Code"

// validate runs the full pipeline on a raw DIL document. The response body
// is the canonical report; the exit code the CLI would return travels in a
// header so HTTP consumers can share the contract.
func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	raw := string(body)
	hash := models.SpecHash(raw)

	if s.Cache != nil {
		if cached, err := s.Cache.Get(r.Context(), hash); err == nil {
			w.Header().Set(exitCodeHeader, exitCodeFromState(cached))
			httpx.WriteCanonical(w, 200, cached)
			return
		} else if !store.IsCacheMiss(err) {
			log.Printf("report cache get: %v", err)
		}
	}

	parsed := dsl.Parse(raw)
	rep, code := rules.ValidateCore(parsed)
	out, err := report.Emit(rep)
	if err != nil {
		httpx.Error(w, 500, "report emission failed")
		return
	}

	errorCodes := make([]string, 0, len(rep.Errors))
	for _, e := range rep.Errors {
		errorCodes = append(errorCodes, e.Code)
	}
	s.Metrics.RecordValidation(rep.State, errorCodes, len(parsed.Issues))

	receiptID := s.persist(r.Context(), store.Receipt{
		SpecHash: hash,
		Kind:     store.KindValidation,
		State:    rep.State,
		ExitCode: code,
		Payload:  out,
	})
	s.announce(r.Context(), receiptbus.Event{
		ReceiptID: receiptID,
		Kind:      store.KindValidation,
		State:     rep.State,
		SpecHash:  hash,
	})

	if s.Cache != nil {
		if err := s.Cache.Set(r.Context(), hash, out, s.CacheTTL); err != nil {
			log.Printf("report cache set: %v", err)
		}
	}

	w.Header().Set(exitCodeHeader, strconv.Itoa(code))
	httpx.WriteCanonical(w, 200, out)
}

type verifyRequest struct {
	Spec                 string             `json:"spec"`
	ValidationReceiptRef string             `json:"validation_receipt_ref"`
	Checks               []models.CheckSpec `json:"checks"`
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req verifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if strings.TrimSpace(req.Spec) == "" {
		httpx.Error(w, 400, "spec required")
		return
	}

	parsed := dsl.Parse(req.Spec)
	receipt, code := s.Runner.Run(r.Context(), parsed, req.ValidationReceiptRef, req.Checks)
	out, err := report.EmitReceipt(receipt)
	if err != nil {
		httpx.Error(w, 500, "receipt emission failed")
		return
	}

	statuses := make([]string, 0, len(receipt.Checks))
	for _, c := range receipt.Checks {
		statuses = append(statuses, c.Status)
	}
	s.Metrics.RecordVerification(receipt.State, statuses)

	hash := models.SpecHash(req.Spec)
	receiptID := s.persist(r.Context(), store.Receipt{
		SpecHash: hash,
		Kind:     store.KindVerification,
		State:    receipt.State,
		ExitCode: code,
		Payload:  out,
	})
	s.announce(r.Context(), receiptbus.Event{
		ReceiptID: receiptID,
		Kind:      store.KindVerification,
		State:     receipt.State,
		SpecHash:  hash,
	})

	w.Header().Set(exitCodeHeader, strconv.Itoa(code))
	httpx.WriteCanonical(w, 200, out)
}

type receiptResponse struct {
	ReceiptID string          `json:"receipt_id"`
	SpecHash  string          `json:"spec_hash"`
	Kind      string          `json:"kind"`
	State     string          `json:"state"`
	ExitCode  int             `json:"exit_code"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *Server) getReceipt(w http.ResponseWriter, r *http.Request) {
	if s.Receipts == nil {
		httpx.Error(w, 503, "receipt persistence disabled")
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.Receipts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpx.Error(w, 404, "receipt not found")
			return
		}
		httpx.Error(w, 500, "receipt lookup failed")
		return
	}
	httpx.WriteJSON(w, 200, receiptResponse{
		ReceiptID: rec.ReceiptID,
		SpecHash:  rec.SpecHash,
		Kind:      rec.Kind,
		State:     rec.State,
		ExitCode:  rec.ExitCode,
		CreatedAt: rec.CreatedAt,
		Payload:   json.RawMessage(rec.Payload),
	})
}

// events streams receipt announcements over a websocket until the client
// disconnects.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ch := s.Hub.Subscribe(32)
	defer s.Hub.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, evt); err != nil {
				return
			}
		}
	}
}

// persist stores a receipt when persistence is configured and returns its
// id. Persistence failures are logged, never surfaced into the report.
func (s *Server) persist(ctx context.Context, rec store.Receipt) string {
	rec.ReceiptID = s.newID()
	rec.CreatedAt = s.now()
	if s.Receipts == nil {
		return rec.ReceiptID
	}
	if err := s.Receipts.Append(ctx, rec); err != nil {
		log.Printf("receipt append: %v", err)
	}
	return rec.ReceiptID
}

// announce publishes to the in-process hub and, best-effort, to the bus.
func (s *Server) announce(ctx context.Context, evt receiptbus.Event) {
	s.Hub.Publish(stream.Event{
		Type:      evt.Kind,
		ReceiptID: evt.ReceiptID,
		SpecHash:  evt.SpecHash,
		State:     evt.State,
	})
	if s.Publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Publisher.Publish(pubCtx, evt); err != nil {
		log.Printf("receipt bus publish: %v", err)
	}
}

func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	httpx.Error(w, http.StatusBadRequest, "invalid request body")
	return nil, false
}

// exitCodeFromState recovers the exit code for a cached canonical report by
// reading its state field.
func exitCodeFromState(cached string) string {
	var probe struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal([]byte(cached), &probe); err != nil {
		return strconv.Itoa(models.ExitInvalid)
	}
	switch probe.State {
	case models.StateValid:
		return strconv.Itoa(models.ExitOK)
	case models.StateUndecidable:
		return strconv.Itoa(models.ExitUndecidable)
	default:
		return strconv.Itoa(models.ExitInvalid)
	}
}
