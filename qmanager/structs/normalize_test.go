// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package structs

import (
	"testing"

	"github.com/shoenig/test/must"
)

func TestNormalizeMachine(t *testing.T) {
	vars := map[string]string{
		"name":        "M1",
		"domain":      "D",
		"primarypool": "P1",
		"pools":       "P1,Extra",
		"arch":        "AMD64",
		"osversion":   "1200",
		"numcpus":     "4",
		"maxjobs":     "1",
		"haszfs":      "1",
		"online":      "0",
		"acl":         "Open,Committers",
	}

	out, err := NormalizeMachine(vars)
	must.NoError(t, err)
	must.Eq(t, "m1", out["name"])
	must.Eq(t, "d", out["domain"])
	must.Eq(t, "p1", out["primarypool"])
	must.Eq(t, []string{"p1", "extra"}, out["pools"].([]string))
	must.Eq(t, "amd64", out["arch"])
	must.Eq(t, 1200, out["osversion"])
	must.Eq(t, 4, out["numcpus"])
	must.Eq(t, 1, out["maxjobs"])
	must.Eq(t, true, out["haszfs"])
	must.Eq(t, false, out["online"])
	must.Eq(t, []string{"open", "committers"}, out["acl"].([]string))
}

func TestNormalizeMachine_partial(t *testing.T) {
	out, err := NormalizeMachine(map[string]string{"online": "1"})
	must.NoError(t, err)
	must.MapLen(t, 1, out)
	must.Eq(t, true, out["online"])
}

func TestNormalizeMachine_errors(t *testing.T) {
	cases := []struct {
		name string
		vars map[string]string
	}{
		{"comma in name", map[string]string{"name": "a,b"}},
		{"negative maxjobs", map[string]string{"maxjobs": "-1"}},
		{"non-numeric osversion", map[string]string{"osversion": "twelve"}},
		{"bad bool", map[string]string{"online": "yes"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeMachine(tc.vars)
			must.Error(t, err)
		})
	}
}

func TestNormalizeACL(t *testing.T) {
	out, err := NormalizeACL(map[string]string{
		"name":    "Open",
		"uidlist": "",
		"gidlist": "Wheel,Dev",
		"sense":   "1",
	})
	must.NoError(t, err)
	must.Eq(t, "open", out["name"])
	must.Eq(t, []string{}, out["uidlist"].([]string))
	must.Eq(t, []string{"wheel", "dev"}, out["gidlist"].([]string))
	must.Eq(t, true, out["sense"])
}

func TestNormalizeACL_badSense(t *testing.T) {
	_, err := NormalizeACL(map[string]string{"sense": "maybe"})
	must.Error(t, err)
}

func TestApplyMachine(t *testing.T) {
	row := &MachineRow{Name: "m1", MaxJobs: 1}
	fields, err := NormalizeMachine(map[string]string{"maxjobs": "4", "online": "1"})
	must.NoError(t, err)

	ApplyMachine(row, fields)
	must.Eq(t, "m1", row.Name)
	must.Eq(t, 4, row.MaxJobs)
	must.True(t, row.Online)
}

func TestRowCopy(t *testing.T) {
	m := &MachineRow{Name: "m1", Pools: []string{"p1"}, ACL: []string{"open"}}
	c := m.Copy()
	c.Pools[0] = "p2"
	c.ACL[0] = "closed"
	must.Eq(t, "p1", m.Pools[0])
	must.Eq(t, "open", m.ACL[0])

	j := &JobRow{ID: 1, GIDs: []int{5}, Machines: []string{"m1"}, MDL: []string{"arch = amd64"}}
	jc := j.Copy()
	jc.GIDs[0] = 9
	jc.Machines[0] = "m2"
	must.Eq(t, 5, j.GIDs[0])
	must.Eq(t, "m1", j.Machines[0])
}

func TestEncodeDecode_roundTrip(t *testing.T) {
	in := &MachineRow{
		Name: "m1", Domain: "d", PrimaryPool: "p1",
		Pools: []string{"p1"}, Arch: "amd64", OSVersion: 1200,
		NumCPUs: 4, MaxJobs: 1, HasZFS: true, Online: true,
		ACL: []string{"open"},
	}
	buf, err := Encode(in)
	must.NoError(t, err)

	var out MachineRow
	must.NoError(t, Decode(buf, &out))
	must.Eq(t, in, &out)
}
