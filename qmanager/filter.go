// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/freebsd/qmanager/qmanager/structs"
)

// The machine description list (mdl) is an ordered list of predicate
// strings of the form "COLUMN OP VALUE" with single ASCII spaces.
// Evaluation is the conjunction of all predicates over the machine
// table.

// ErrBadMDL wraps every compile failure; it maps to status 406.
var ErrBadMDL = errors.New("error in machine description")

type colType int

const (
	colString colType = iota
	colInt
	colBool
	colList
)

// machineColumns names the queryable columns of the machine table.
var machineColumns = map[string]colType{
	"name":        colString,
	"domain":      colString,
	"primarypool": colString,
	"arch":        colString,
	"pools":       colList,
	"acl":         colList,
	"osversion":   colInt,
	"numcpus":     colInt,
	"maxjobs":     colInt,
	"haszfs":      colBool,
	"online":      colBool,
}

// columnValue extracts a column from a machine row. List columns
// compare against their comma-joined form; substring match for pools
// is not supported.
func columnValue(row *structs.MachineRow, col string) interface{} {
	switch col {
	case "name":
		return row.Name
	case "domain":
		return row.Domain
	case "primarypool":
		return row.PrimaryPool
	case "arch":
		return row.Arch
	case "pools":
		return strings.Join(row.Pools, ",")
	case "acl":
		return strings.Join(row.ACL, ",")
	case "osversion":
		return row.OSVersion
	case "numcpus":
		return row.NumCPUs
	case "maxjobs":
		return row.MaxJobs
	case "haszfs":
		return row.HasZFS
	case "online":
		return row.Online
	default:
		panic("unknown machine column " + col)
	}
}

// predicate is one compiled constraint.
type predicate struct {
	col string
	op  string
	// exactly one of these is set, per the column type
	strVal  string
	intVal  int
	boolVal bool
	typ     colType
}

// compileMDL parses a machine description list. Unknown columns,
// unknown operators, and values that do not parse in the column's
// native type are rejected.
func compileMDL(mdl []string) ([]predicate, error) {
	preds := make([]predicate, 0, len(mdl))
	for _, line := range mdl {
		tokens := strings.Split(line, " ")
		if len(tokens) != 3 {
			return nil, fmt.Errorf("%w: malformed predicate %q", ErrBadMDL, line)
		}
		col, op, val := tokens[0], tokens[1], tokens[2]

		typ, ok := machineColumns[col]
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %q", ErrBadMDL, col)
		}

		switch op {
		case "=", "!=":
		case "<", "<=", ">", ">=":
			if typ != colInt {
				return nil, fmt.Errorf("%w: operator %q needs an integer column, %q is not", ErrBadMDL, op, col)
			}
		default:
			return nil, fmt.Errorf("%w: unknown operator %q", ErrBadMDL, op)
		}

		p := predicate{col: col, op: op, typ: typ}
		switch typ {
		case colInt:
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q needs an integer, got %q", ErrBadMDL, col, val)
			}
			p.intVal = n
		case colBool:
			b, err := structs.NormalizeBool(col, val)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q needs 0 or 1, got %q", ErrBadMDL, col, val)
			}
			p.boolVal = b
		default:
			p.strVal = strings.ToLower(val)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// match evaluates one predicate against a machine row.
func (p *predicate) match(row *structs.MachineRow) bool {
	switch p.typ {
	case colInt:
		v := columnValue(row, p.col).(int)
		switch p.op {
		case "=":
			return v == p.intVal
		case "!=":
			return v != p.intVal
		case "<":
			return v < p.intVal
		case "<=":
			return v <= p.intVal
		case ">":
			return v > p.intVal
		case ">=":
			return v >= p.intVal
		}
	case colBool:
		v := columnValue(row, p.col).(bool)
		if p.op == "=" {
			return v == p.boolVal
		}
		return v != p.boolVal
	default:
		v := columnValue(row, p.col).(string)
		if p.op == "=" {
			return v == p.strVal
		}
		return v != p.strVal
	}
	return false
}

// matchMachines returns the rows satisfying every predicate, in the
// caller's iteration order.
func matchMachines(preds []predicate, rows []*structs.MachineRow) []*structs.MachineRow {
	var out []*structs.MachineRow
	for _, row := range rows {
		ok := true
		for i := range preds {
			if !preds[i].match(row) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out
}
