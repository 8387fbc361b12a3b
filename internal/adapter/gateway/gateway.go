// Package gateway provides the payment collaborator used by the money
// services. The simulated implementation stands in for a real provider in
// development and dispatcher deployments without payment credentials.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundlane/fundlane-backend/internal/domain"
)

// Simulated implements domain.PaymentGateway. Every call succeeds and
// returns a generated token or receipt reference.
type Simulated struct {
	logger *slog.Logger
}

func NewSimulated(logger *slog.Logger) *Simulated {
	return &Simulated{logger: logger}
}

var _ domain.PaymentGateway = (*Simulated)(nil)

func (g *Simulated) Authorize(ctx context.Context, amount decimal.Decimal, method string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewTransientError("authorize", err)
	}

	token := fmt.Sprintf("auth_%s", uuid.NewString())
	g.logger.Info("gateway authorize",
		slog.String("token", token),
		slog.String("amount", amount.String()),
		slog.String("method", method))
	return token, nil
}

func (g *Simulated) Capture(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewTransientError("capture", err)
	}

	receipt := fmt.Sprintf("cap_%s", uuid.NewString())
	g.logger.Info("gateway capture",
		slog.String("token", token),
		slog.String("receipt", receipt))
	return receipt, nil
}

func (g *Simulated) Refund(ctx context.Context, token string, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewTransientError("refund", err)
	}

	receipt := fmt.Sprintf("ref_%s", uuid.NewString())
	g.logger.Info("gateway refund",
		slog.String("token", token),
		slog.String("amount", amount.String()),
		slog.String("receipt", receipt))
	return receipt, nil
}

func (g *Simulated) Payout(ctx context.Context, recipientID uuid.UUID, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewTransientError("payout", err)
	}

	receipt := fmt.Sprintf("pay_%s", uuid.NewString())
	g.logger.Info("gateway payout",
		slog.String("recipient_id", recipientID.String()),
		slog.String("amount", amount.String()),
		slog.String("receipt", receipt))
	return receipt, nil
}
