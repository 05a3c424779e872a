/*
handlers.go - HTTP API handlers for the compensation engine

PURPOSE:
  Exposes the compensation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Distributors:
    GET    /api/distributors                    List all distributors
    POST   /api/distributors                    Enroll under a sponsor
    GET    /api/distributors/{id}               Get distributor details
    POST   /api/distributors/{id}/place         Place a deferred enrollment
    GET    /api/distributors/{id}/downline      Matrix or sponsor subtree
    GET    /api/distributors/{id}/statement     Period earnings statement
    DELETE /api/distributors/{id}               Soft delete

  Orders:
    POST   /api/orders                          Record a finalized order
    GET    /api/orders                          List a period's orders

  Runs:
    POST   /api/runs/{period}                   Execute the monthly run
    GET    /api/runs                            List runs
    GET    /api/runs/{period}                   Run status
    GET    /api/runs/{period}/snapshots         Period snapshots
    GET    /api/runs/{period}/records           Period commission records

  Batches:
    GET    /api/batches                         List batches
    GET    /api/batches/{period}                Batch detail
    POST   /api/batches/{period}/submit         draft -> pending_review
    POST   /api/batches/{period}/approve        pending_review -> approved
    POST   /api/batches/{period}/process        approved -> processing
    POST   /api/batches/{period}/complete       processing -> completed
    POST   /api/batches/{period}/cancel         Cancel a non-terminal batch
    GET    /api/batches/{period}/export         Per-payee totals

  Admin:
    POST   /api/admin/reset/{period}            Delete run artifacts, unlock
    GET    /api/plan                            Active plan

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate run, locked period, bad transition)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  Run and admin routes must sit behind operator auth before production.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/compensation-engine/commission"
	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
	"github.com/warp/compensation-engine/orchestrator"
	"github.com/warp/compensation-engine/volume"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Graph     network.GraphStore
	Orders    volume.OrderStore
	Snapshots volume.SnapshotStore
	Records   commission.RecordStore
	Enroll    *network.Service
	Orch      *orchestrator.Orchestrator
	Plan      *engine.Plan
}

// Stores is the persistence surface the handler needs, satisfied by both
// the sqlite and memory stores.
type Stores interface {
	Orders() volume.OrderStore
	Snapshots() volume.SnapshotStore
	Records() commission.RecordStore
}

// NewHandler creates a new handler over a graph store and the interface
// views of the backing store.
func NewHandler(graph network.GraphStore, stores Stores, orch *orchestrator.Orchestrator, plan *engine.Plan) *Handler {
	return &Handler{
		Graph:     graph,
		Orders:    stores.Orders(),
		Snapshots: stores.Snapshots(),
		Records:   stores.Records(),
		Enroll:    network.NewService(graph, plan),
		Orch:      orch,
		Plan:      plan,
	}
}

// =============================================================================
// DISTRIBUTOR HANDLERS
// =============================================================================

func (h *Handler) ListDistributors(w http.ResponseWriter, r *http.Request) {
	distributors, err := h.Graph.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list distributors", err)
		return
	}
	dtos := make([]DistributorDTO, 0, len(distributors))
	for i := range distributors {
		dtos = append(dtos, toDistributorDTO(&distributors[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) EnrollDistributor(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.SponsorID == "" {
		writeError(w, http.StatusBadRequest, "sponsor_id is required", nil)
		return
	}

	d, err := h.Enroll.Enroll(r.Context(), network.EnrollInput{
		ID:             engine.DistributorID(req.ID),
		SponsorID:      engine.DistributorID(req.SponsorID),
		DeferPlacement: req.DeferPlacement,
	})
	if err != nil {
		writeDomainError(w, "Failed to enroll distributor", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDistributorDTO(d))
}

// PlaceDistributor places an enrollment that deferred its matrix slot.
// Idempotent: placing an already-placed distributor returns it unchanged.
func (h *Handler) PlaceDistributor(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributorID(chi.URLParam(r, "id"))
	d, err := h.Enroll.PlaceDeferred(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to place distributor", err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributorDTO(d))
}

func (h *Handler) GetDistributor(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributorID(chi.URLParam(r, "id"))
	d, err := h.Graph.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get distributor", err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributorDTO(d))
}

// GetDownline returns the matrix subtree by default; ?tree=sponsor walks
// the enrollment tree instead.
func (h *Handler) GetDownline(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributorID(chi.URLParam(r, "id"))
	if _, err := h.Graph.Get(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get distributor", err)
		return
	}

	distributors, err := h.Graph.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list distributors", err)
		return
	}
	idx := network.BuildIndex(distributors)

	nodes := []DownlineNodeDTO{}
	visit := func(d network.Distributor, level int) bool {
		nodes = append(nodes, DownlineNodeDTO{Distributor: toDistributorDTO(&d), Level: level})
		return true
	}
	if r.URL.Query().Get("tree") == "sponsor" {
		idx.SponsorDescendants(id, visit)
	} else {
		idx.MatrixDescendants(id, visit)
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributorID(chi.URLParam(r, "id"))
	period, ok := parsePeriodParam(w, r.URL.Query().Get("period"))
	if !ok {
		return
	}
	if _, err := h.Graph.Get(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to get distributor", err)
		return
	}
	records, err := h.Records.ByRecipient(r.Context(), period, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load statement", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(id, period, records))
}

func (h *Handler) DeleteDistributor(w http.ResponseWriter, r *http.Request) {
	id := engine.DistributorID(chi.URLParam(r, "id"))
	if err := h.Graph.SoftDelete(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete distributor", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	order, err := orderFromRequest(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Orders.Save(r.Context(), *order); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save order", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": order.ID})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodParam(w, r.URL.Query().Get("period"))
	if !ok {
		return
	}
	orders, err := h.Orders.InPeriod(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list orders", err)
		return
	}
	type orderDTO struct {
		ID         string `json:"id"`
		Kind       string `json:"kind"`
		TotalBV    string `json:"total_bv"`
		TotalCents int64  `json:"total_cents"`
		Qualifying bool   `json:"qualifying"`
		CreatedAt  string `json:"created_at"`
	}
	dtos := make([]orderDTO, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		dtos = append(dtos, orderDTO{
			ID:         o.ID,
			Kind:       string(o.Kind),
			TotalBV:    o.TotalBV().String(),
			TotalCents: o.TotalCents().Cents(),
			Qualifying: o.Qualifying(),
			CreatedAt:  o.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

func (h *Handler) ExecuteRun(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	run, err := h.Orch.Execute(r.Context(), period)
	if err != nil {
		// A failed run still has a useful row; return it with the error.
		if run.ID != "" {
			writeJSON(w, statusFor(err), map[string]any{
				"error": err.Error(),
				"run":   toRunDTO(run),
			})
			return
		}
		writeDomainError(w, "Run failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRunDTO(run))
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Orch.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	run, err := h.Orch.Status(r.Context(), period)
	if err != nil {
		writeDomainError(w, "Failed to get run", err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (h *Handler) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	snaps, err := h.Snapshots.AllForPeriod(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load snapshots", err)
		return
	}
	dtos := make([]SnapshotDTO, 0, len(snaps))
	for _, s := range snaps {
		dtos = append(dtos, toSnapshotDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRecords returns every commission record calculated for the period.
func (h *Handler) GetRecords(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	records, err := h.Records.AllForPeriod(r.Context(), period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load records", err)
		return
	}
	dtos := make([]RecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BATCH HANDLERS
// =============================================================================

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Orch.Workflow().Batches.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list batches", err)
		return
	}
	dtos := make([]BatchDTO, 0, len(batches))
	for _, b := range batches {
		dtos = append(dtos, toBatchDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	b, err := h.Orch.Workflow().Batches.Get(r.Context(), period)
	if err != nil {
		writeDomainError(w, "Failed to get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	b, err := h.Orch.Workflow().Submit(r.Context(), period)
	if err != nil {
		writeDomainError(w, "Failed to submit batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

func (h *Handler) ApproveBatch(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "reviewer is required", nil)
		return
	}
	b, err := h.Orch.Workflow().Approve(r.Context(), period, req.Reviewer)
	if err != nil {
		writeDomainError(w, "Failed to approve batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

func (h *Handler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	b, err := h.Orch.Workflow().StartProcessing(r.Context(), period)
	if err != nil {
		writeDomainError(w, "Failed to start processing", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

func (h *Handler) CompleteBatch(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	b, err := h.Orch.Workflow().Complete(r.Context(), period)
	if err != nil {
		writeDomainError(w, "Failed to complete batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	b, err := h.Orch.Workflow().Cancel(r.Context(), period, req.Reviewer)
	if err != nil {
		writeDomainError(w, "Failed to cancel batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchDTO(b))
}

func (h *Handler) ExportBatch(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	lines, err := h.Orch.Workflow().Export(r.Context(), period)
	if err != nil {
		writeDomainError(w, "Failed to export batch", err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) ResetPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := parsePeriodPath(w, r)
	if !ok {
		return
	}
	if err := h.Orch.Reset(r.Context(), period); err != nil {
		writeDomainError(w, "Failed to reset period", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "period": period.String()})
}

func (h *Handler) GetPlan(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Plan)
}

// =============================================================================
// HELPERS
// =============================================================================

func orderFromRequest(req *CreateOrderRequest) (*volume.Order, error) {
	o := volume.Order{
		ID:                 req.ID,
		Kind:               volume.OrderKind(req.Kind),
		IsPersonalPurchase: req.IsPersonalPurchase,
		PaymentStatus:      volume.PaymentStatus(req.PaymentStatus),
		FulfillmentStatus:  volume.FulfillmentStatus(req.FulfillmentStatus),
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	switch o.Kind {
	case volume.OrderWholesale:
		if req.DistributorID == "" {
			return nil, errRequired("distributor_id")
		}
		id := engine.DistributorID(req.DistributorID)
		o.DistributorID = &id
	case volume.OrderRetail:
		if req.CustomerID == "" || req.ReferrerID == "" {
			return nil, errRequired("customer_id and referrer_id")
		}
		c := req.CustomerID
		rid := engine.DistributorID(req.ReferrerID)
		o.CustomerID = &c
		o.ReferrerID = &rid
	default:
		return nil, errRequired("kind (wholesale or retail)")
	}

	o.CreatedAt = time.Now().UTC()
	if req.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, req.CreatedAt)
		if err != nil {
			return nil, errRequired("created_at in RFC3339 format")
		}
		o.CreatedAt = t.UTC()
	}

	if len(req.Items) == 0 {
		return nil, errRequired("at least one item")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, errRequired("positive item quantity")
		}
		o.Items = append(o.Items, volume.OrderItem{
			ID:             uuid.NewString(),
			SKU:            item.SKU,
			Quantity:       item.Quantity,
			BV:             engine.MustParseBV(item.BV),
			PriceCents:     engine.Cents(item.PriceCents),
			WholesaleCents: engine.Cents(item.WholesaleCents),
		})
	}
	return &o, nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

func errRequired(what string) error { return validationError(what + " is required") }

func parsePeriodParam(w http.ResponseWriter, raw string) (engine.Period, bool) {
	if raw == "" {
		writeError(w, http.StatusBadRequest, "period query parameter is required (YYYY-MM)", nil)
		return engine.Period{}, false
	}
	p, err := engine.ParsePeriod(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period format (use YYYY-MM)", err)
		return engine.Period{}, false
	}
	return p, true
}

func parsePeriodPath(w http.ResponseWriter, r *http.Request) (engine.Period, bool) {
	return parsePeriodParam(w, chi.URLParam(r, "period"))
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsClientError(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
