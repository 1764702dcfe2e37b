package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BatchSize is the batch threshold: every BatchSize prompts past the free
// tier cost one usage charge.
const BatchSize = 100

// Plan is a subscription tier. PricePerBatch is charged once per BatchSize
// prompts past FreePrompts; PriceCap bounds what the platform will let one
// cycle accumulate.
type Plan struct {
	ID            string
	Name          string
	PricePerBatch decimal.Decimal
	FreePrompts   int64
	PriceCap      decimal.Decimal
}

// Plans a new shop can subscribe to, or a current shop can switch to. All
// plans in this list appear on the pricing page.
var Plans = []Plan{
	{
		ID:            "0696abc9-43e2-4915-822a-895de5ede035",
		Name:          "Basic",
		PricePerBatch: decimal.NewFromFloat(1.00),
		FreePrompts:   100,
		PriceCap:      decimal.NewFromFloat(25.00),
	},
}

// RetiredPlans were previously available and may still be in use by one or
// more shops. No plan in this list appears on the pricing page.
var RetiredPlans = []Plan{}

// FindPlan finds a plan with the given id, whether current or retired.
func FindPlan(id string) (Plan, error) {
	for _, p := range Plans {
		if p.ID == id {
			return p, nil
		}
	}
	for _, p := range RetiredPlans {
		if p.ID == id {
			return p, nil
		}
	}

	return Plan{}, fmt.Errorf("no plan with id %s: %w", id, ErrPlanNotFound)
}

// PlanDescription builds a simple description string in the format of
// "100 free prompts each month, then $1.00 USD per 100 prompts."
func PlanDescription(p Plan) string {
	return fmt.Sprintf("%d free prompts each month, then $%s USD per %d prompts.",
		p.FreePrompts, p.PricePerBatch.StringFixed(2), BatchSize)
}

// PlanTerms builds the terms string submitted with the platform's
// recurring charge.
func PlanTerms(p Plan) string {
	return fmt.Sprintf("Your first %d prompts each month are free, then your shop will be charged $%s USD per %d prompts",
		p.FreePrompts, p.PricePerBatch.StringFixed(2), BatchSize)
}
