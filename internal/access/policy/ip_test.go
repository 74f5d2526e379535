// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/warden/internal/access/policy"
	"github.com/taibuivan/warden/internal/platform/apperr"
	"github.com/taibuivan/warden/pkg/pointer"
)

func rule(action policy.RuleAction, ip string, userID *string) policy.IPRestriction {
	return policy.IPRestriction{ID: ip + string(action), OrgID: "org-1", IPAddress: ip, Action: action, UserID: userID}
}

func rangeRule(action policy.RuleAction, start, end string) policy.IPRestriction {
	restriction := rule(action, start, nil)
	restriction.IPRangeEnd = pointer.To(end)
	return restriction
}

/*
TestEvaluateIP_Precedence covers the scope-then-polarity tie-break.
*/
func TestEvaluateIP_Precedence(t *testing.T) {
	alice := pointer.To("alice")
	bob := pointer.To("bob")

	tests := []struct {
		name    string
		rules   []policy.IPRestriction
		ip      string
		blocked bool
	}{
		{"no_rules_allow", nil, "10.0.0.1", false},
		{"org_block", []policy.IPRestriction{rule(policy.ActionBlock, "10.0.0.1", nil)}, "10.0.0.1", true},
		{"org_block_other_ip", []policy.IPRestriction{rule(policy.ActionBlock, "10.0.0.1", nil)}, "10.0.0.2", false},
		{"user_allow_beats_org_block", []policy.IPRestriction{
			rule(policy.ActionBlock, "10.0.0.1", nil),
			rule(policy.ActionAllow, "10.0.0.1", alice),
		}, "10.0.0.1", false},
		{"user_block_beats_org_allow", []policy.IPRestriction{
			rule(policy.ActionAllow, "10.0.0.1", nil),
			rule(policy.ActionBlock, "10.0.0.1", alice),
		}, "10.0.0.1", true},
		{"opposite_org_rules_block", []policy.IPRestriction{
			rule(policy.ActionAllow, "10.0.0.1", nil),
			rangeRule(policy.ActionBlock, "10.0.0.0", "10.0.0.255"),
		}, "10.0.0.1", true},
		{"opposite_user_rules_block", []policy.IPRestriction{
			rule(policy.ActionAllow, "10.0.0.1", alice),
			rule(policy.ActionBlock, "10.0.0.1", alice),
		}, "10.0.0.1", true},
		{"other_user_rule_ignored", []policy.IPRestriction{
			rule(policy.ActionBlock, "10.0.0.1", bob),
		}, "10.0.0.1", false},
		{"other_user_allow_does_not_override", []policy.IPRestriction{
			rule(policy.ActionBlock, "10.0.0.1", nil),
			rule(policy.ActionAllow, "10.0.0.1", bob),
		}, "10.0.0.1", true},
		{"range_inclusive_end", []policy.IPRestriction{
			rangeRule(policy.ActionBlock, "192.168.1.10", "192.168.1.20"),
		}, "192.168.1.20", true},
		{"ipv4_mapped_ipv6", []policy.IPRestriction{
			rule(policy.ActionBlock, "10.0.0.1", nil),
		}, "::ffff:10.0.0.1", true},
		{"unparseable_fails_closed", nil, "not-an-ip", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := policy.EvaluateIP(tt.rules, "alice", tt.ip)
			assert.Equal(t, tt.blocked, verdict.Blocked)
		})
	}
}

/*
TestEvaluateIP_ReportsWinningRule ensures the verdict names the rule that decided it.
*/
func TestEvaluateIP_ReportsWinningRule(t *testing.T) {
	winner := rule(policy.ActionAllow, "10.0.0.1", pointer.To("alice"))
	verdict := policy.EvaluateIP([]policy.IPRestriction{rule(policy.ActionBlock, "10.0.0.1", nil), winner}, "alice", "10.0.0.1")

	require.NotNil(t, verdict.Rule)
	assert.Equal(t, winner.ID, verdict.Rule.ID)
}

/*
TestIPRestriction_Validate rejects rules that cannot be evaluated.
*/
func TestIPRestriction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    policy.IPRestriction
		isValid bool
	}{
		{"single_v4", rule(policy.ActionBlock, "10.0.0.1", nil), true},
		{"single_v6", rule(policy.ActionAllow, "2001:db8::1", nil), true},
		{"range", rangeRule(policy.ActionBlock, "10.0.0.1", "10.0.0.9"), true},
		{"descending_range", rangeRule(policy.ActionBlock, "10.0.0.9", "10.0.0.1"), false},
		{"mixed_family", rangeRule(policy.ActionBlock, "10.0.0.1", "2001:db8::1"), false},
		{"garbage", rule(policy.ActionBlock, "10.0.0", nil), false},
		{"unknown_action", rule("deny", "10.0.0.1", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.isValid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, "VALIDATION_ERROR", apperr.As(err).Code)
		})
	}
}
