// Package vat wraps the upstream tax API behind the async request protocol.
// The real HTTP client, fraud-prevention headers, and payload formatting live
// outside this repo; this package owns only the Go interface and the
// processors built on it.
package vat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Return is the nine-box VAT return body.
type Return struct {
	PeriodKey                    string  `json:"periodKey"`
	VATDueSales                  float64 `json:"vatDueSales"`
	VATDueAcquisitions           float64 `json:"vatDueAcquisitions"`
	TotalVATDue                  float64 `json:"totalVatDue"`
	VATReclaimedCurrPeriod       float64 `json:"vatReclaimedCurrPeriod"`
	NetVATDue                    float64 `json:"netVatDue"`
	TotalValueSalesExVAT         float64 `json:"totalValueSalesExVAT"`
	TotalValuePurchasesExVAT     float64 `json:"totalValuePurchasesExVAT"`
	TotalValueGoodsSuppliedExVAT float64 `json:"totalValueGoodsSuppliedExVAT"`
	TotalAcquisitionsExVAT       float64 `json:"totalAcquisitionsExVAT"`
	Finalised                    bool    `json:"finalised"`
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	ProcessingDate   time.Time `json:"processingDate"`
	FormBundleNumber string    `json:"formBundleNumber"`
	ChargeRefNumber  string    `json:"chargeRefNumber,omitempty"`
}

// Obligation is one VAT reporting period.
type Obligation struct {
	PeriodKey string     `json:"periodKey"`
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Due       time.Time  `json:"due"`
	Status    string     `json:"status"` // "O" open, "F" fulfilled
	Received  *time.Time `json:"received,omitempty"`
}

// ObligationsQuery filters the obligations lookup.
type ObligationsQuery struct {
	From   time.Time
	To     time.Time
	Status string
}

// Sentinel errors the upstream client maps its decided rejections to.
var (
	ErrDuplicateSubmission = errors.New("vat: return already submitted for period")
	ErrPeriodNotFound      = errors.New("vat: unknown period key")
)

// Client is the upstream tax API as seen by the processors. Submissions are
// keyed by period, so re-running a submission is an idempotent overwrite on
// the upstream side.
type Client interface {
	SubmitReturn(ctx context.Context, vrn string, ret Return) (Receipt, error)
	Obligations(ctx context.Context, vrn string, q ObligationsQuery) ([]Obligation, error)
}

// StubClient is an in-memory Client for tests and local development. It
// accepts any period key it has been seeded with and rejects duplicates.
type StubClient struct {
	mu        sync.Mutex
	periods   map[string]Obligation         // periodKey -> obligation
	submitted map[string]map[string]Receipt // vrn -> periodKey -> receipt

	// Delay simulates upstream latency when non-zero.
	Delay time.Duration
}

func NewStubClient(periods ...Obligation) *StubClient {
	c := &StubClient{
		periods:   make(map[string]Obligation),
		submitted: make(map[string]map[string]Receipt),
	}
	if len(periods) == 0 {
		now := time.Now().UTC()
		periods = []Obligation{{
			PeriodKey: "24A1",
			Start:     now.AddDate(0, -3, 0),
			End:       now.AddDate(0, 0, -1),
			Due:       now.AddDate(0, 1, 0),
			Status:    "O",
		}}
	}
	for _, p := range periods {
		c.periods[p.PeriodKey] = p
	}
	return c
}

func (c *StubClient) SubmitReturn(ctx context.Context, vrn string, ret Return) (Receipt, error) {
	if c.Delay > 0 {
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-time.After(c.Delay):
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.periods[ret.PeriodKey]; !ok {
		return Receipt{}, ErrPeriodNotFound
	}
	byPeriod, ok := c.submitted[vrn]
	if !ok {
		byPeriod = make(map[string]Receipt)
		c.submitted[vrn] = byPeriod
	}
	if _, dup := byPeriod[ret.PeriodKey]; dup {
		return Receipt{}, ErrDuplicateSubmission
	}
	receipt := Receipt{
		ProcessingDate:   time.Now().UTC(),
		FormBundleNumber: uuid.NewString(),
		ChargeRefNumber:  uuid.NewString(),
	}
	byPeriod[ret.PeriodKey] = receipt
	return receipt, nil
}

func (c *StubClient) Obligations(ctx context.Context, vrn string, q ObligationsQuery) ([]Obligation, error) {
	if c.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.Delay):
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Obligation
	for _, p := range c.periods {
		o := p
		if rec, ok := c.submitted[vrn][p.PeriodKey]; ok {
			o.Status = "F"
			received := rec.ProcessingDate
			o.Received = &received
		}
		if q.Status != "" && o.Status != q.Status {
			continue
		}
		if !q.From.IsZero() && o.End.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && o.Start.After(q.To) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}
