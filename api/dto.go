/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY IN THE API:
  Amounts cross the wire as integer cents plus a display string. Clients
  never parse the display string back.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/compensation-engine/commission"
	"github.com/warp/compensation-engine/engine"
	"github.com/warp/compensation-engine/network"
	"github.com/warp/compensation-engine/orchestrator"
	"github.com/warp/compensation-engine/payout"
	"github.com/warp/compensation-engine/volume"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ErrorResponse is the uniform error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// DistributorDTO represents a distributor in API responses.
type DistributorDTO struct {
	ID             string  `json:"id"`
	SponsorID      *string `json:"sponsor_id,omitempty"`
	MatrixParentID *string `json:"matrix_parent_id,omitempty"`
	MatrixPosition *int    `json:"matrix_position,omitempty"`
	MatrixDepth    *int    `json:"matrix_depth,omitempty"`
	Rank           string  `json:"rank"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
}

// EnrollRequest creates a distributor under a sponsor.
type EnrollRequest struct {
	ID             string `json:"id,omitempty"`
	SponsorID      string `json:"sponsor_id"`
	DeferPlacement bool   `json:"defer_placement,omitempty"`
}

// DownlineNodeDTO is one node of a tree listing, with its level relative
// to the requested root.
type DownlineNodeDTO struct {
	Distributor DistributorDTO `json:"distributor"`
	Level       int            `json:"level"`
}

// OrderItemRequest is one line of an order submission.
type OrderItemRequest struct {
	SKU            string `json:"sku"`
	Quantity       int    `json:"quantity"`
	BV             string `json:"bv"`
	PriceCents     int64  `json:"price_cents"`
	WholesaleCents int64  `json:"wholesale_cents"`
}

// CreateOrderRequest records a finalized order from the checkout system.
type CreateOrderRequest struct {
	ID                 string             `json:"id,omitempty"`
	Kind               string             `json:"kind"`
	DistributorID      string             `json:"distributor_id,omitempty"`
	CustomerID         string             `json:"customer_id,omitempty"`
	ReferrerID         string             `json:"referrer_id,omitempty"`
	IsPersonalPurchase bool               `json:"is_personal_purchase,omitempty"`
	PaymentStatus      string             `json:"payment_status"`
	FulfillmentStatus  string             `json:"fulfillment_status"`
	CreatedAt          string             `json:"created_at,omitempty"`
	Items              []OrderItemRequest `json:"items"`
}

// SnapshotDTO represents one distributor's volume for a period.
type SnapshotDTO struct {
	DistributorID string `json:"distributor_id"`
	Period        string `json:"period"`
	PersonalBV    string `json:"personal_bv"`
	GroupBV       string `json:"group_bv"`
	Active        bool   `json:"active"`
}

// RecordDTO is one commission line on a statement or period listing.
type RecordDTO struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	Type        string            `json:"type"`
	Source      string            `json:"source"`
	SourceID    string            `json:"source_id"`
	AmountCents int64             `json:"amount_cents"`
	Amount      string            `json:"amount"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// StatementDTO is a distributor's full earnings view for a period.
type StatementDTO struct {
	DistributorID string           `json:"distributor_id"`
	Period        string           `json:"period"`
	TotalCents    int64            `json:"total_cents"`
	Total         string           `json:"total"`
	ByType        map[string]int64 `json:"by_type_cents"`
	Records       []RecordDTO      `json:"records"`
}

// RunDTO reports a run's progress.
type RunDTO struct {
	ID            string `json:"id"`
	Period        string `json:"period"`
	PlanVersion   int    `json:"plan_version"`
	Stage         string `json:"stage"`
	SnapshotCount int    `json:"snapshot_count"`
	Advancements  int    `json:"advancements"`
	RecordCount   int    `json:"record_count"`
	TotalCents    int64  `json:"total_cents"`
	FailureReason string `json:"failure_reason,omitempty"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at,omitempty"`
}

// BatchDTO reports a payout batch.
type BatchDTO struct {
	ID            string `json:"id"`
	Period        string `json:"period"`
	State         string `json:"state"`
	TotalCents    int64  `json:"total_cents"`
	Total         string `json:"total"`
	RecordCount   int    `json:"record_count"`
	RevenueCents  int64  `json:"revenue_cents"`
	Ratio         string `json:"ratio"`
	Safeguard     string `json:"safeguard"`
	ReviewedBy    string `json:"reviewed_by,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// ReviewRequest carries the reviewer identity for approvals/cancels.
type ReviewRequest struct {
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toDistributorDTO(d *network.Distributor) DistributorDTO {
	dto := DistributorDTO{
		ID:        string(d.ID),
		Rank:      string(d.Rank),
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.SponsorID != nil {
		s := string(*d.SponsorID)
		dto.SponsorID = &s
	}
	if d.MatrixParentID != nil {
		p := string(*d.MatrixParentID)
		dto.MatrixParentID = &p
	}
	dto.MatrixPosition = d.MatrixPosition
	dto.MatrixDepth = d.MatrixDepth
	return dto
}

func toSnapshotDTO(s volume.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		DistributorID: string(s.DistributorID),
		Period:        s.Period.String(),
		PersonalBV:    s.PersonalBV.String(),
		GroupBV:       s.GroupBV.String(),
		Active:        s.Active,
	}
}

func toRecordDTO(r commission.Record) RecordDTO {
	return RecordDTO{
		ID:          r.ID,
		RecipientID: string(r.RecipientID),
		Type:        string(r.Type),
		Source:      string(r.Source),
		SourceID:    r.SourceID,
		AmountCents: r.Amount.Cents(),
		Amount:      r.Amount.String(),
		Meta:        r.Meta,
	}
}

func toRunDTO(r orchestrator.Run) RunDTO {
	dto := RunDTO{
		ID:            r.ID,
		Period:        r.Period.String(),
		PlanVersion:   r.PlanVersion,
		Stage:         string(r.Stage),
		SnapshotCount: r.SnapshotCount,
		Advancements:  r.Advancements,
		RecordCount:   r.RecordCount,
		TotalCents:    r.TotalCents,
		FailureReason: r.FailureReason,
		StartedAt:     r.StartedAt.UTC().Format(time.RFC3339),
	}
	if r.FinishedAt != nil {
		dto.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toBatchDTO(b payout.Batch) BatchDTO {
	return BatchDTO{
		ID:            b.ID,
		Period:        b.Period.String(),
		State:         string(b.State),
		TotalCents:    b.Total.Cents(),
		Total:         b.Total.String(),
		RecordCount:   b.RecordCount,
		RevenueCents:  b.Revenue.Cents(),
		Ratio:         b.Ratio.StringFixed(4),
		Safeguard:     b.Safeguard,
		ReviewedBy:    b.ReviewedBy,
		FailureReason: b.FailureReason,
	}
}

func toStatementDTO(id engine.DistributorID, period engine.Period, records []commission.Record) StatementDTO {
	dto := StatementDTO{
		DistributorID: string(id),
		Period:        period.String(),
		ByType:        make(map[string]int64),
		Records:       make([]RecordDTO, 0, len(records)),
	}
	var total engine.Money
	for _, r := range records {
		total = total.Add(r.Amount)
		dto.ByType[string(r.Type)] += r.Amount.Cents()
		dto.Records = append(dto.Records, toRecordDTO(r))
	}
	dto.TotalCents = total.Cents()
	dto.Total = total.String()
	return dto
}
