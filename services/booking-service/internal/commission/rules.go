package commission

import (
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

// Specificity is one tier of the rule hierarchy.
type Specificity int

const (
	ServiceAndAttendant Specificity = iota
	ServiceOnly
	AttendantOnly
	BusinessDefault
)

// Hierarchy is the fixed evaluation order. The first tier with a matching
// active rule wins; rules are never blended.
var Hierarchy = []Specificity{ServiceAndAttendant, ServiceOnly, AttendantOnly, BusinessDefault}

func (s Specificity) String() string {
	switch s {
	case ServiceAndAttendant:
		return "service_and_attendant"
	case ServiceOnly:
		return "service"
	case AttendantOnly:
		return "attendant"
	case BusinessDefault:
		return "business_default"
	default:
		return "unknown"
	}
}

// Matches reports whether rule belongs to this tier for the given service and
// attendant. BusinessDefault never matches a rule; it is the settings fallback.
func (s Specificity) Matches(rule model.CommissionRule, serviceID, attendantID string) bool {
	if !rule.IsActive {
		return false
	}
	switch s {
	case ServiceAndAttendant:
		return rule.ServiceID != "" && rule.AttendantID != "" &&
			rule.ServiceID == serviceID && rule.AttendantID == attendantID
	case ServiceOnly:
		return rule.ServiceID != "" && rule.AttendantID == "" && rule.ServiceID == serviceID
	case AttendantOnly:
		return rule.ServiceID == "" && rule.AttendantID != "" && rule.AttendantID == attendantID
	default:
		return false
	}
}

type Resolution struct {
	Specificity Specificity
	RuleID      string
	Percentage  decimal.Decimal
}

// Resolve walks Hierarchy and returns the first match, falling back to the
// business default percentage. It never fails.
func Resolve(rules []model.CommissionRule, serviceID, attendantID string, defaultPct decimal.Decimal) Resolution {
	for _, tier := range Hierarchy {
		if tier == BusinessDefault {
			break
		}
		for _, r := range rules {
			if tier.Matches(r, serviceID, attendantID) {
				return Resolution{Specificity: tier, RuleID: r.ID, Percentage: r.Percentage}
			}
		}
	}
	return Resolution{Specificity: BusinessDefault, Percentage: defaultPct}
}

var hundred = decimal.NewFromInt(100)

// Amount is price × pct / 100 rounded half-up to cents.
func Amount(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(pct).Div(hundred).Round(2)
}
