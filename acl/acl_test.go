// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package acl

import (
	"testing"

	"github.com/hashicorp/go-set/v3"
	"github.com/shoenig/test/must"
)

func rule(t *testing.T, uids, gids []string, sense bool) *Rule {
	t.Helper()
	r, err := NewRule("test", uids, gids, sense)
	must.NoError(t, err)
	return r
}

func gidSet(gids ...int) *set.Set[int] {
	return set.From(gids)
}

func TestNewRule_badName(t *testing.T) {
	_, err := NewRule("a,b", nil, nil, true)
	must.Error(t, err)
}

func TestNewRule_lowercasesName(t *testing.T) {
	r, err := NewRule("COMMITTERS", []string{"1001"}, nil, true)
	must.NoError(t, err)
	must.Eq(t, "committers", r.Name)
}

func TestNewRule_unresolvable(t *testing.T) {
	_, err := NewRule("x", []string{"no-such-user-qmanager"}, nil, true)
	must.Error(t, err)

	_, err = NewRule("x", nil, []string{"no-such-group-qmanager"}, true)
	must.Error(t, err)
}

func TestEvaluate_emptyACLDenies(t *testing.T) {
	must.False(t, Evaluate(nil, 1001, gidSet()))
}

func TestEvaluate_wildcard(t *testing.T) {
	// Empty uid and gid lists match every principal.
	open := []*Rule{rule(t, nil, nil, true)}
	must.True(t, Evaluate(open, 0, gidSet()))
	must.True(t, Evaluate(open, 4206, gidSet(4206, 31337)))
}

func TestEvaluate_uidMatch(t *testing.T) {
	rules := []*Rule{
		rule(t, []string{"4206"}, nil, true),
		rule(t, nil, nil, false),
	}
	must.True(t, Evaluate(rules, 4206, gidSet(4206, 31337)))
	must.False(t, Evaluate(rules, 4201, gidSet(4201, 31337)))
}

func TestEvaluate_gidIntersection(t *testing.T) {
	rules := []*Rule{
		rule(t, []string{"100"}, nil, true),
		rule(t, nil, []string{"200", "201"}, true),
		rule(t, nil, nil, false),
	}
	must.True(t, Evaluate(rules, 101, gidSet(201, 300)))
	must.True(t, Evaluate(rules, 101, gidSet(300, 200)))
	must.False(t, Evaluate(rules, 101, gidSet(300)))
}

func TestEvaluate_firstMatchWins(t *testing.T) {
	// A later permissive rule never overrides an earlier denying
	// match.
	rules := []*Rule{
		rule(t, []string{"100"}, nil, true),
		rule(t, nil, []string{"200"}, false),
		rule(t, nil, []string{"201"}, true),
		rule(t, nil, nil, false),
	}
	must.False(t, Evaluate(rules, 101, gidSet(200, 201)))
	must.True(t, Evaluate(rules, 101, gidSet(300, 201)))
	must.False(t, Evaluate(rules, 101, gidSet(300)))
}

func TestEvaluate_denyThenOpen(t *testing.T) {
	rules := []*Rule{
		rule(t, []string{"1001"}, nil, false),
		rule(t, nil, nil, true),
	}
	must.False(t, Evaluate(rules, 1001, gidSet()))
	must.True(t, Evaluate(rules, 1002, gidSet()))
}

func TestEvaluate_defaultAllowTail(t *testing.T) {
	rules := []*Rule{
		rule(t, []string{"100"}, nil, false),
		rule(t, nil, []string{"200"}, true),
		rule(t, nil, []string{"201"}, false),
		rule(t, nil, nil, true),
	}
	must.True(t, Evaluate(rules, 101, gidSet()))
	must.False(t, Evaluate(rules, 100, gidSet()))
	must.True(t, Evaluate(rules, 101, gidSet(200, 201)))
	must.False(t, Evaluate(rules, 101, gidSet(300, 201)))
	must.True(t, Evaluate(rules, 101, gidSet(300)))
}
