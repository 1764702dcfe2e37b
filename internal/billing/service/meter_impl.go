package service

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/geodirect/internal/billing/domain"
	"github.com/smallbiznis/geodirect/internal/config"
	promptlogdomain "github.com/smallbiznis/geodirect/internal/promptlog/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// billingWindow is how far back from the billing-cycle anchor the current
// usage window reaches.
const billingWindow = 30 * 24 * time.Hour

type Params struct {
	fx.In

	Log     *zap.Logger
	Logs    promptlogdomain.Manager
	Gateway domain.CommerceGateway
}

type Meter struct {
	log     *zap.Logger
	logs    promptlogdomain.Manager
	gateway domain.CommerceGateway
}

func New(p Params) domain.Meter {
	return &Meter{
		log:     p.Log.Named("billing.meter"),
		logs:    p.Logs,
		gateway: p.Gateway,
	}
}

// Install provisions the shop's prompt log database. Called when a shop
// authorizes the app; callers may treat a failure as non-fatal since
// Prepare runs again on the next install or restart.
func (m *Meter) Install(ctx context.Context, shopID int64) error {
	return m.logs.Prepare(ctx, shopID)
}

// RecordPrompt appends the trigger event and then evaluates the shop's
// usage against its plan. Only the append can fail the call; every failure
// past it is logged and swallowed so a billing outage never loses events.
func (m *Meter) RecordPrompt(ctx context.Context, account domain.Account, req domain.TriggerRequest) (promptlogdomain.LoggedPrompt, error) {
	prompt, err := m.logs.Append(ctx, promptlogdomain.AppendRequest{
		ShopID:       account.ShopID,
		GeodirectID:  req.GeodirectID,
		GeodirectRev: req.GeodirectRev,
	})
	if err != nil {
		return promptlogdomain.LoggedPrompt{}, err
	}

	m.evaluateUsage(ctx, account)

	return prompt, nil
}

// evaluateUsage re-reads the cycle count after the append and issues one
// usage charge when the count lands exactly on a batch multiple past the
// free tier. Each append raises the count by one, so consecutive appends
// cannot both land on the same multiple; the signal is still at-least-once,
// not exactly-once: if the aggregation view lags behind the just-written
// event, a crossing can fire twice or not at all. Gaps and duplicates are
// reconciled out-of-band.
func (m *Meter) evaluateUsage(ctx context.Context, account domain.Account) {
	log := m.log.With(zap.Int64("shop_id", account.ShopID))

	plan, err := domain.FindPlan(account.PlanID)
	if err != nil {
		log.Warn("shop has no resolvable plan, skipping usage evaluation",
			zap.String("plan_id", account.PlanID),
			zap.Error(err))
		return
	}

	charge, err := m.gateway.GetRecurringCharge(ctx, account.Credentials, account.ChargeID)
	if err != nil {
		log.Error("failed to fetch recurring charge for billing anchor",
			zap.Int64("charge_id", account.ChargeID),
			zap.Error(err))
		return
	}

	windowStart := charge.BillingOn.Add(-billingWindow).UnixMilli()
	count, err := m.logs.CountSince(ctx, account.ShopID, windowStart)
	if err != nil {
		log.Error("failed to count prompts for current billing cycle", zap.Error(err))
		return
	}

	if count <= plan.FreePrompts || count%domain.BatchSize != 0 {
		return
	}

	description := fmt.Sprintf("%s %s plan: prompts %d-%d this billing cycle",
		config.AppName, plan.Name, count-domain.BatchSize+1, count)
	usage, err := m.gateway.CreateUsageCharge(ctx, account.Credentials, account.ChargeID, plan.PricePerBatch, description)
	if err != nil {
		log.Error("failed to create usage charge",
			zap.Int64("cycle_count", count),
			zap.String("price", plan.PricePerBatch.StringFixed(2)),
			zap.Error(err))
		return
	}

	log.Info("created usage charge",
		zap.Int64("usage_charge_id", usage.ID),
		zap.Int64("cycle_count", count),
		zap.String("price", plan.PricePerBatch.StringFixed(2)))
}
