// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

// Package acl implements access control for build machines. An ACL is
// an ordered list of rules evaluated against a principal, the (uid,
// gid-set) pair reported by the kernel for the requesting peer.
package acl

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-set/v3"

	"github.com/freebsd/qmanager/helper/users"
)

// Rule is one allow/deny clause of an ACL. An empty UIDs or GIDs list
// acts as a wildcard for that dimension.
type Rule struct {
	// Name identifies the rule in the catalog. Lowercase, no comma.
	Name string

	// UIDs is the set of uids the rule applies to.
	UIDs *set.Set[int]

	// GIDs is the set of gids the rule applies to.
	GIDs *set.Set[int]

	// Sense is the result of the rule when it matches: true grants
	// access, false denies it.
	Sense bool
}

// NewRule builds a Rule from catalog form, resolving user and group
// names to their numeric ids.
func NewRule(name string, uidList, gidList []string, sense bool) (*Rule, error) {
	name = strings.ToLower(name)
	if strings.Contains(name, ",") {
		return nil, fmt.Errorf("invalid acl name %q: must not contain a comma", name)
	}

	uids := set.New[int](len(uidList))
	for _, u := range uidList {
		uid, err := users.LookupUID(u)
		if err != nil {
			return nil, fmt.Errorf("acl %q: %w", name, err)
		}
		uids.Insert(uid)
	}

	gids := set.New[int](len(gidList))
	for _, g := range gidList {
		gid, err := users.LookupGID(g)
		if err != nil {
			return nil, fmt.Errorf("acl %q: %w", name, err)
		}
		gids.Insert(gid)
	}

	return &Rule{Name: name, UIDs: uids, GIDs: gids, Sense: sense}, nil
}

// match reports whether the rule applies to the principal. A rule
// matches when the uid is listed (or the uid list is empty) and at
// least one of the principal's gids is listed (or the gid list is
// empty).
func (r *Rule) match(uid int, gids *set.Set[int]) bool {
	if !r.UIDs.Empty() && !r.UIDs.Contains(uid) {
		return false
	}
	if !r.GIDs.Empty() && r.GIDs.Intersect(gids).Empty() {
		return false
	}
	return true
}

// Evaluate walks the rules in order and returns the Sense of the first
// rule that matches the principal. If no rule matches, access is
// denied: an empty ACL is restrictive, not permissive.
func Evaluate(rules []*Rule, uid int, gids *set.Set[int]) bool {
	for _, r := range rules {
		if r.match(uid, gids) {
			return r.Sense
		}
	}
	return false
}
