package splitter

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fundlane/fundlane-backend/internal/domain"
	"github.com/fundlane/fundlane-backend/internal/money"
)

// Compute calculates the payout items for a distribution
// Returns one item per rule, ordered by priority
// Logic:
//  1. Sort rules by Priority (Lower = First)
//  2. Deduct FIXED amounts from the total to obtain the percent base
//  3. Each PERCENTAGE rule receives floor(base * percentage / 100)
//  4. The LAST rule by priority receives totalAmount minus everything
//     already assigned, absorbing the rounding remainder
//
// Safety: the item amounts always sum to totalAmount exactly (no unit lost
// or invented by rounding)
func Compute(distributionID uuid.UUID, totalAmount decimal.Decimal, rules []domain.DistributionRule) ([]domain.DistributionItem, error) {
	if !money.IsPositive(totalAmount) {
		return nil, domain.NewValidationError("total amount must be positive")
	}

	if len(rules) == 0 {
		return nil, domain.NewValidationError("rules list cannot be empty")
	}

	// Copy before sorting to avoid mutating the caller's slice
	sortedRules := make([]domain.DistributionRule, len(rules))
	copy(sortedRules, rules)

	sort.Slice(sortedRules, func(i, j int) bool {
		return sortedRules[i].Priority < sortedRules[j].Priority
	})

	fixedTotal := decimal.Zero
	percentTotal := decimal.Zero
	for _, rule := range sortedRules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}

		switch rule.Type {
		case domain.DistributionRuleTypeFixed:
			fixedTotal = fixedTotal.Add(rule.FixedAmount)
		case domain.DistributionRuleTypePercentage:
			percentTotal = percentTotal.Add(rule.Percentage)
		}
	}

	if fixedTotal.GreaterThan(totalAmount) {
		return nil, domain.NewValidationError("fixed rule amounts exceed total amount")
	}

	if percentTotal.GreaterThan(decimal.NewFromInt(100)) {
		return nil, domain.NewValidationError("percentage rules must sum to at most 100")
	}

	// Percent shares are taken from what is left after fixed deductions
	percentBase := totalAmount.Sub(fixedTotal)

	items := make([]domain.DistributionItem, 0, len(sortedRules))
	assigned := decimal.Zero

	for i, rule := range sortedRules {
		var amount decimal.Decimal

		if i == len(sortedRules)-1 {
			// Last rule by priority takes the exact remainder
			amount = totalAmount.Sub(assigned)
		} else {
			switch rule.Type {
			case domain.DistributionRuleTypeFixed:
				amount = rule.FixedAmount
			case domain.DistributionRuleTypePercentage:
				amount = money.Percentage(percentBase, rule.Percentage)
			}
		}

		if amount.LessThan(decimal.Zero) {
			return nil, domain.NewValidationError("rules assign more than the total amount")
		}

		items = append(items, domain.DistributionItem{
			ID:             uuid.New(),
			DistributionID: distributionID,
			RuleID:         rule.ID,
			RecipientID:    rule.RecipientID,
			Amount:         amount,
			Status:         domain.DistributionItemStatusPending,
		})
		assigned = assigned.Add(amount)
	}

	// Safety check: conservation must hold exactly
	if !money.Sum(itemAmounts(items)...).Equal(totalAmount) {
		return nil, domain.NewValidationError("computed items do not sum to total amount")
	}

	return items, nil
}

func itemAmounts(items []domain.DistributionItem) []decimal.Decimal {
	amounts := make([]decimal.Decimal, len(items))
	for i := range items {
		amounts[i] = items[i].Amount
	}
	return amounts
}
