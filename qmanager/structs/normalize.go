// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package structs

import (
	"fmt"
	"strconv"
	"strings"
)

// Normalization of wire arguments into catalog form: scalar names are
// lowercased and must not contain a comma, list fields are split on ","
// with each element lowercased, integers parse base 10 with negatives
// rejected for size-like fields, booleans accept "0"/"1".

// NormalizeName lowercases a name field, rejecting commas.
func NormalizeName(field, v string) (string, error) {
	if strings.Contains(v, ",") {
		return "", fmt.Errorf("invalid %s %q: must not contain a comma", field, v)
	}
	return strings.ToLower(v), nil
}

// NormalizeList splits a comma-separated list field, lowercasing each
// element. An empty string yields an empty list.
func NormalizeList(v string) []string {
	if v == "" {
		return []string{}
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.ToLower(p))
	}
	return out
}

// NormalizeInt parses a base-10 integer, rejecting negative values.
func NormalizeInt(field, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, v)
	}
	return n, nil
}

// NormalizeBool parses a "0"/"1" boolean.
func NormalizeBool(field, v string) (bool, error) {
	switch v {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("invalid %s %q: want 0 or 1", field, v)
	}
}

// NormalizeMachine validates and normalizes machine properties
// submitted over the wire. Only the fields present in vars appear in
// the result, so the same function serves add (all fields required by
// the command table) and update (all optional). ACL names are
// normalized here; their existence is checked by the scheduler.
func NormalizeMachine(vars map[string]string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(vars))

	for _, field := range []string{"name", "arch", "domain", "primarypool"} {
		v, ok := vars[field]
		if !ok {
			continue
		}
		n, err := NormalizeName(field, v)
		if err != nil {
			return nil, err
		}
		out[field] = n
	}

	if v, ok := vars["pools"]; ok {
		out["pools"] = NormalizeList(v)
	}
	if v, ok := vars["acl"]; ok {
		out["acl"] = NormalizeList(v)
	}

	for _, field := range []string{"maxjobs", "osversion", "numcpus"} {
		v, ok := vars[field]
		if !ok {
			continue
		}
		n, err := NormalizeInt(field, v)
		if err != nil {
			return nil, err
		}
		out[field] = n
	}

	for _, field := range []string{"haszfs", "online"} {
		v, ok := vars[field]
		if !ok {
			continue
		}
		b, err := NormalizeBool(field, v)
		if err != nil {
			return nil, err
		}
		out[field] = b
	}

	return out, nil
}

// ApplyMachine overlays normalized fields onto a machine row.
func ApplyMachine(row *MachineRow, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "name":
			row.Name = v.(string)
		case "domain":
			row.Domain = v.(string)
		case "primarypool":
			row.PrimaryPool = v.(string)
		case "arch":
			row.Arch = v.(string)
		case "pools":
			row.Pools = v.([]string)
		case "acl":
			row.ACL = v.([]string)
		case "maxjobs":
			row.MaxJobs = v.(int)
		case "osversion":
			row.OSVersion = v.(int)
		case "numcpus":
			row.NumCPUs = v.(int)
		case "haszfs":
			row.HasZFS = v.(bool)
		case "online":
			row.Online = v.(bool)
		}
	}
}

// NormalizeACL validates and normalizes ACL rule properties submitted
// over the wire. The uid and gid lists keep their submitted elements;
// resolution happens when the rule is compiled.
func NormalizeACL(vars map[string]string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(vars))

	if v, ok := vars["name"]; ok {
		n, err := NormalizeName("name", v)
		if err != nil {
			return nil, err
		}
		out["name"] = n
	}
	if v, ok := vars["uidlist"]; ok {
		out["uidlist"] = NormalizeList(v)
	}
	if v, ok := vars["gidlist"]; ok {
		out["gidlist"] = NormalizeList(v)
	}
	if v, ok := vars["sense"]; ok {
		b, err := NormalizeBool("sense", v)
		if err != nil {
			return nil, err
		}
		out["sense"] = b
	}

	return out, nil
}

// ApplyACL overlays normalized fields onto an ACL row.
func ApplyACL(row *ACLRow, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "name":
			row.Name = v.(string)
		case "uidlist":
			row.UIDList = v.([]string)
		case "gidlist":
			row.GIDList = v.([]string)
		case "sense":
			row.Sense = v.(bool)
		}
	}
}
