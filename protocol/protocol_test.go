// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

package protocol

import (
	"bufio"
	"bytes"
	"net"
	"testing"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/stretchr/testify/require"
)

func TestFrame_roundTrip(t *testing.T) {
	args := map[string]interface{}{
		"name":     "j1",
		"priority": 10,
		"haszfs":   true,
		"mdl":      []string{"arch = amd64", "osversion >= 1200"},
		"gidlist":  []int{0, 5, 920},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "acquire", args))

	line, got, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "acquire", line)
	require.Equal(t, "j1", got["name"])
	require.Equal(t, 10, got["priority"])
	require.Equal(t, true, got["haszfs"])
	require.Equal(t, []string{"arch = amd64", "osversion >= 1200"}, got["mdl"])
	require.Equal(t, []int{0, 5, 920}, got["gidlist"])
}

func TestFrame_twoOnOneStream(t *testing.T) {
	// The decoder must not consume past the EOM of the first frame.
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "203", map[string]interface{}{"id": 2}))
	require.NoError(t, WriteFrame(&buf, "202", map[string]interface{}{"machine": "m1", "id": 2}))

	br := bufio.NewReader(&buf)

	line, args, err := ReadFrame(br)
	require.NoError(t, err)
	require.Equal(t, "203", line)
	require.Equal(t, 2, args["id"])

	line, args, err = ReadFrame(br)
	require.NoError(t, err)
	require.Equal(t, "202", line)
	require.Equal(t, "m1", args["machine"])
}

func TestFrame_emptyArgs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, "jobs", nil))

	line, args, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "jobs", line)
	require.Empty(t, args)
}

func TestWriteFrame_rejectsBadValue(t *testing.T) {
	err := WriteFrame(&bytes.Buffer{}, "jobs", map[string]interface{}{
		"bad": struct{ X int }{1},
	})
	require.ErrorIs(t, err, ErrBadPayload)
}

func TestReadFrame_badVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("9\njobs\n")
	_, _, err := ReadFrame(bufio.NewReader(&buf))
	require.ErrorIs(t, err, ErrBadVersion)
}

func TestReadFrame_rejectsNonMapPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("1\njobs\n")
	require.NoError(t, codec.NewEncoder(&buf, msgpackHandle).Encode([]string{"x"}))
	buf.WriteString("EOM\n")

	_, _, err := ReadFrame(bufio.NewReader(&buf))
	require.ErrorIs(t, err, ErrBadPayload)
}

func TestReadFrame_rejectsNestedPayload(t *testing.T) {
	// Composite values may hold primitives only; a map inside the
	// argument map must not decode.
	var buf bytes.Buffer
	buf.WriteString("1\njobs\n")
	payload := map[string]interface{}{"x": map[string]interface{}{"y": 1}}
	require.NoError(t, codec.NewEncoder(&buf, msgpackHandle).Encode(payload))
	buf.WriteString("EOM\n")

	_, _, err := ReadFrame(bufio.NewReader(&buf))
	require.ErrorIs(t, err, ErrBadPayload)
}

func TestReadFrame_missingTerminator(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("1\njobs\n")
	require.NoError(t, codec.NewEncoder(&buf, msgpackHandle).Encode(map[string]interface{}{}))
	buf.WriteString("XXX\n")

	_, _, err := ReadFrame(bufio.NewReader(&buf))
	require.ErrorIs(t, err, ErrBadFrame)
}

func TestValidateCommand(t *testing.T) {
	err := ValidateCommand("acquire", map[string]interface{}{
		"name": "j1", "type": "build", "priority": 1, "mdl": []string{},
	})
	require.NoError(t, err)

	err = ValidateCommand("acquire", map[string]interface{}{"name": "j1"})
	var missing *MissingArgumentError
	require.ErrorAs(t, err, &missing)
	require.ElementsMatch(t, []string{"type", "priority", "mdl"}, missing.Args)

	err = ValidateCommand("jobs", map[string]interface{}{"bogus": 1})
	var unknown *UnknownArgumentError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, []string{"bogus"}, unknown.Args)

	require.Error(t, ValidateCommand("frobnicate", nil))
}

func TestValidateStatus(t *testing.T) {
	require.NoError(t, ValidateStatus(202, map[string]interface{}{"machine": "m1", "id": 1}))
	require.Error(t, ValidateStatus(202, map[string]interface{}{"machine": "m1"}))
	require.NoError(t, ValidateStatus(201, nil))
	require.Error(t, ValidateStatus(299, nil))
}

func TestPeerCredentials(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sock"

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)
	defer ln.Close()

	clientDone := make(chan struct{})
	defer close(clientDone)
	go func() {
		conn, err := net.Dial("unix", path)
		if err == nil {
			defer conn.Close()
			<-clientDone
		}
	}()

	server, err := ln.AcceptUnix()
	require.NoError(t, err)
	defer server.Close()

	uid, gids, err := PeerCredentials(server)
	require.NoError(t, err)
	require.GreaterOrEqual(t, uid, 0)
	require.NotEmpty(t, gids)
}
