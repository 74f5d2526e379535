// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package policy

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/taibuivan/warden/internal/platform/validate"
)

// # Rule Model

// RuleAction is the polarity of an IP rule.
type RuleAction string

const (
	ActionAllow RuleAction = "allow"
	ActionBlock RuleAction = "block"
)

// IPRestriction is one allow or block rule. UserID nil means org-wide.
type IPRestriction struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"org_id"`
	UserID      *string    `json:"user_id,omitempty"`
	IPAddress   string     `json:"ip_address"`
	IPRangeEnd  *string    `json:"ip_range_end,omitempty"`
	Action      RuleAction `json:"action"`
	Description string     `json:"description,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsUserScoped reports whether the rule targets a single user.
func (rule IPRestriction) IsUserScoped() bool {
	return rule.UserID != nil && *rule.UserID != ""
}

// bounds returns the inclusive address range the rule covers.
func (rule IPRestriction) bounds() (netip.Addr, netip.Addr, error) {
	start, err := netip.ParseAddr(strings.TrimSpace(rule.IPAddress))
	if err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	start = start.Unmap()

	if rule.IPRangeEnd == nil || strings.TrimSpace(*rule.IPRangeEnd) == "" {
		return start, start, nil
	}

	end, err := netip.ParseAddr(strings.TrimSpace(*rule.IPRangeEnd))
	if err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	end = end.Unmap()

	if start.Is4() != end.Is4() {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: range mixes address families", ErrInvalidRule)
	}
	if end.Less(start) {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("%w: range end precedes start", ErrInvalidRule)
	}
	return start, end, nil
}

// Matches reports whether addr falls inside the rule. Unparseable rules match nothing.
func (rule IPRestriction) Matches(addr netip.Addr) bool {
	start, end, err := rule.bounds()
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	if addr.Is4() != start.Is4() {
		return false
	}
	return start.Compare(addr) <= 0 && addr.Compare(end) <= 0
}

// Validate checks a rule before it is stored.
func (rule IPRestriction) Validate() error {
	validator := &validate.Validator{}

	validator.Required(FieldIPAddress, rule.IPAddress)
	validator.OneOf(FieldAction, string(rule.Action), string(ActionAllow), string(ActionBlock))
	validator.MaxLen("description", rule.Description, 500)

	if strings.TrimSpace(rule.IPAddress) != "" {
		_, _, err := rule.bounds()
		field := FieldIPAddress
		if rule.IPRangeEnd != nil {
			field = FieldIPRangeEnd
		}
		validator.Custom(field, err != nil, "Must be a valid IP address or ascending range of one family")
	}

	return validator.Err()
}

// # Evaluation

// IPVerdict is the outcome of evaluating an address against a rule set.
type IPVerdict struct {
	Blocked bool
	// Rule is the winning rule, nil when nothing matched or the address was unreadable.
	Rule *IPRestriction
}

/*
EvaluateIP decides whether ip is blocked for userID.

Description: Rules scoped to other users are ignored. Among matching rules the
user-scoped ones outrank org-wide ones; within the winning scope a block
outranks an allow. No match at all means allowed. An address that cannot be
parsed is blocked, since the caller enabled IP restriction.

Parameters:
  - rules: []IPRestriction (one organisation)
  - userID: string
  - ip: string

Returns:
  - IPVerdict
*/
func EvaluateIP(rules []IPRestriction, userID, ip string) IPVerdict {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return IPVerdict{Blocked: true}
	}

	var userScoped, orgWide []IPRestriction
	for _, rule := range rules {
		if rule.IsUserScoped() && *rule.UserID != userID {
			continue
		}
		if !rule.Matches(addr) {
			continue
		}
		if rule.IsUserScoped() {
			userScoped = append(userScoped, rule)
		} else {
			orgWide = append(orgWide, rule)
		}
	}

	winning := userScoped
	if len(winning) == 0 {
		winning = orgWide
	}
	if len(winning) == 0 {
		return IPVerdict{}
	}

	for i := range winning {
		if winning[i].Action == ActionBlock {
			return IPVerdict{Blocked: true, Rule: &winning[i]}
		}
	}
	return IPVerdict{Rule: &winning[0]}
}
