// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package qmanager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freebsd/qmanager/qmanager/structs"
)

func testRows() []*structs.MachineRow {
	return []*structs.MachineRow{
		{
			Name: "m1", Domain: "freebsd.org", PrimaryPool: "package",
			Pools: []string{"package"}, Arch: "amd64", OSVersion: 1300,
			NumCPUs: 8, MaxJobs: 2, HasZFS: true, Online: true,
		},
		{
			Name: "m2", Domain: "freebsd.org", PrimaryPool: "package",
			Pools: []string{"package", "release"}, Arch: "aarch64",
			OSVersion: 1400, NumCPUs: 16, MaxJobs: 4, HasZFS: false,
			Online: false,
		},
	}
}

func TestCompileMDL_matching(t *testing.T) {
	cases := []struct {
		name string
		mdl  []string
		want []string
	}{
		{"empty matches all", []string{}, []string{"m1", "m2"}},
		{"string equality", []string{"arch = amd64"}, []string{"m1"}},
		{"string inequality", []string{"arch != amd64"}, []string{"m2"}},
		{"value is lowercased", []string{"arch = AMD64"}, []string{"m1"}},
		{"int ordering", []string{"osversion >= 1400"}, []string{"m2"}},
		{"int strict", []string{"numcpus > 8"}, []string{"m2"}},
		{"bool", []string{"haszfs = 1"}, []string{"m1"}},
		{"offline machines still match", []string{"online = 0"}, []string{"m2"}},
		{"conjunction", []string{"domain = freebsd.org", "numcpus <= 8"}, []string{"m1"}},
		{"pools is whole-list", []string{"pools = package,release"}, []string{"m2"}},
		{"no match", []string{"arch = riscv64"}, nil},
	}

	rows := testRows()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			preds, err := compileMDL(tc.mdl)
			require.NoError(t, err)

			var got []string
			for _, row := range matchMachines(preds, rows) {
				got = append(got, row.Name)
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCompileMDL_errors(t *testing.T) {
	cases := []struct {
		name string
		mdl  []string
	}{
		{"malformed", []string{"arch=amd64"}},
		{"too many tokens", []string{"arch = amd64 extra"}},
		{"unknown column", []string{"memory = 4096"}},
		{"unknown operator", []string{"arch ~ amd64"}},
		{"ordering on string", []string{"arch < amd64"}},
		{"ordering on bool", []string{"online >= 1"}},
		{"bad int", []string{"numcpus = four"}},
		{"bad bool", []string{"haszfs = yes"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compileMDL(tc.mdl)
			require.ErrorIs(t, err, ErrBadMDL)
		})
	}
}
