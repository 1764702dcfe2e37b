package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	promptlogdomain "github.com/smallbiznis/geodirect/internal/promptlog/domain"
)

// Credentials authenticate calls against the commerce platform on behalf
// of one shop. How they are obtained and refreshed is not this package's
// concern.
type Credentials struct {
	ShopDomain  string
	AccessToken string
}

// Account is the billing identity of one shop: its plan and the recurring
// charge that anchors its billing cycle.
type Account struct {
	ShopID   int64
	PlanID   string
	ChargeID int64
	Credentials
}

// RecurringCharge is the subset of the platform's subscription object the
// metering logic depends on. BillingOn anchors the current usage window.
type RecurringCharge struct {
	ID        int64
	Status    string
	BillingOn time.Time
}

type UsageCharge struct {
	ID          int64
	Price       decimal.Decimal
	Description string
}

// CommerceGateway is the external commerce-platform billing client. Its
// transport and auth live outside this module.
type CommerceGateway interface {
	GetRecurringCharge(ctx context.Context, creds Credentials, chargeID int64) (RecurringCharge, error)
	CreateUsageCharge(ctx context.Context, creds Credentials, chargeID int64, price decimal.Decimal, description string) (UsageCharge, error)
}

type TriggerRequest struct {
	GeodirectID  string
	GeodirectRev string
}

// Meter is the usage metering entry point. RecordPrompt durably appends
// the trigger event and evaluates the usage-charge threshold for the
// shop's current billing cycle.
type Meter interface {
	Install(ctx context.Context, shopID int64) error
	RecordPrompt(ctx context.Context, account Account, req TriggerRequest) (promptlogdomain.LoggedPrompt, error)
}

var ErrPlanNotFound = errors.New("plan_not_found")
