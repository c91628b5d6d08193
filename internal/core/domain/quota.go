package domain

// ActionCategory identifies a plan-gated product action.
type ActionCategory string

const (
	ActionGenerateNames  ActionCategory = "generate_names"
	ActionSaveFavorite   ActionCategory = "save_favorite"
	ActionExportList     ActionCategory = "export_list"
	ActionBulkGenerate   ActionCategory = "bulk_generate"
	ActionDomainCheck    ActionCategory = "domain_check"
	ActionTrademarkCheck ActionCategory = "trademark_check"
)

// QuotaPolicy maps each plan to its daily limits per action category.
// A category absent from a plan's table means the action is unavailable on that
// plan, not unlimited.
type QuotaPolicy map[Plan]map[ActionCategory]int

// DefaultQuotaPolicy returns the shipped plan gating table. Limits are per UTC day.
func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		PlanFree: {
			ActionGenerateNames: 5,
			ActionSaveFavorite:  20,
		},
		PlanStandard: {
			ActionGenerateNames: 100,
			ActionSaveFavorite:  500,
			ActionExportList:    10,
			ActionDomainCheck:   25,
		},
		PlanPremium: {
			ActionGenerateNames:  1000,
			ActionSaveFavorite:   5000,
			ActionExportList:     100,
			ActionBulkGenerate:   50,
			ActionDomainCheck:    250,
			ActionTrademarkCheck: 25,
		},
	}
}

// Limit returns the daily limit for the plan/category pair. The second return
// value reports whether the category is available on the plan at all.
func (p QuotaPolicy) Limit(plan Plan, category ActionCategory) (int, bool) {
	table, ok := p[plan]
	if !ok {
		return 0, false
	}
	limit, ok := table[category]
	return limit, ok
}
