package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kode4food/tartan/pkg/api"
	"github.com/kode4food/tartan/pkg/builder"
)

type (
	// processor charges order totals. Payments are keyed by run and step,
	// so a retried attempt returns the payment its predecessor created
	processor struct {
		limit    float64
		mu       sync.Mutex
		payments map[api.RunStep]*payment
	}

	payment struct {
		ID          string  `json:"payment_id"`
		Amount      float64 `json:"amount"`
		Status      string  `json:"status"`
		ProcessedAt string  `json:"processed_at"`
	}
)

const defaultChargeLimit = 10_000.0

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrCardDeclined  = errors.New("card declined")
	ErrInvalidLimit  = errors.New("invalid CHARGE_LIMIT")
)

// chargeLimit parses a CHARGE_LIMIT value. Empty means the default
func chargeLimit(s string) (float64, error) {
	if s == "" {
		return defaultChargeLimit, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLimit, s)
	}
	return v, nil
}

func newProcessor(limit float64) *processor {
	return &processor{
		limit:    limit,
		payments: map[api.RunStep]*payment{},
	}
}

func (p *processor) charge(sc *builder.StepContext) (any, error) {
	amount := sc.GetFloat("amount")
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	key := api.RunStep{RunID: sc.RunID(), Step: sc.Step()}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pay, ok := p.payments[key]; ok {
		sc.Logger().Info("Payment already processed",
			slog.String("payment_id", pay.ID))
		return pay, nil
	}

	if amount > p.limit {
		sc.Logger().Warn("Payment declined",
			slog.Float64("amount", amount),
			slog.Float64("limit", p.limit))
		return nil, fmt.Errorf("%w: %.2f exceeds limit", ErrCardDeclined, amount)
	}

	pay := &payment{
		ID:          "PAY-" + uuid.NewString(),
		Amount:      amount,
		Status:      "completed",
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
	}
	p.payments[key] = pay

	sc.Logger().Info("Payment completed",
		slog.String("payment_id", pay.ID),
		slog.Float64("amount", amount))
	return pay, nil
}
