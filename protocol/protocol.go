// Copyright (c) The FreeBSD Project.
// SPDX-License-Identifier: BSD-2-Clause

// Package protocol implements the qmanager wire protocol: a frame is an
// ASCII version line, a command line (command name for requests, a
// three-digit status code for responses), a msgpack-encoded argument
// map, and the literal terminator line "EOM". Argument values are
// restricted to integers, booleans, strings, and lists thereof; the
// decoder cannot instantiate anything else.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// Version is the protocol version spoken by both sides.
const Version = 1

const terminator = "EOM"

var (
	ErrBadVersion = errors.New("bad protocol version")
	ErrBadFrame   = errors.New("malformed frame")
	ErrBadPayload = errors.New("payload is not a primitive argument map")
)

// msgpackHandle is a shared handle for encoding and decoding argument
// maps. RawToString keeps decoded byte strings as strings and MapType
// pins the payload to a string-keyed map.
var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}()

// normalizeValue coerces a decoded value into one of the permitted
// argument types: int, bool, string, []string, []int.
func normalizeValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case bool, string:
		return t, nil
	case int:
		return t, nil
	case int8:
		return int(t), nil
	case int16:
		return int(t), nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint8:
		return int(t), nil
	case uint16:
		return int(t), nil
	case uint32:
		return int(t), nil
	case uint64:
		return int(t), nil
	case []interface{}:
		if len(t) == 0 {
			return []string{}, nil
		}
		switch t[0].(type) {
		case string:
			out := make([]string, 0, len(t))
			for _, e := range t {
				s, ok := e.(string)
				if !ok {
					return nil, ErrBadPayload
				}
				out = append(out, s)
			}
			return out, nil
		default:
			out := make([]int, 0, len(t))
			for _, e := range t {
				n, err := normalizeValue(e)
				if err != nil {
					return nil, err
				}
				i, ok := n.(int)
				if !ok {
					return nil, ErrBadPayload
				}
				out = append(out, i)
			}
			return out, nil
		}
	default:
		return nil, ErrBadPayload
	}
}

// checkValue rejects argument values outside the wire type set before
// they are encoded.
func checkValue(v interface{}) error {
	switch v.(type) {
	case int, int64, uint64, bool, string, []string, []int:
		return nil
	default:
		return fmt.Errorf("%w: unsupported argument type %T", ErrBadPayload, v)
	}
}

// WriteFrame writes one frame. The line is a command name or a
// three-digit status code.
func WriteFrame(w io.Writer, line string, args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	for k, v := range args {
		if err := checkValue(v); err != nil {
			return fmt.Errorf("argument %q: %w", k, err)
		}
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", Version)
	fmt.Fprintf(bw, "%s\n", line)
	if err := codec.NewEncoder(bw, msgpackHandle).Encode(args); err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	fmt.Fprintf(bw, "%s\n", terminator)
	return bw.Flush()
}

// ReadFrame reads one frame from r, returning the command or status
// line and the decoded argument map. The reader must be a bufio.Reader
// so the msgpack decoder does not consume past the payload.
func ReadFrame(r *bufio.Reader) (string, map[string]interface{}, error) {
	verLine, err := r.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	ver, err := strconv.Atoi(strings.TrimSpace(verLine))
	if err != nil || ver != Version {
		return "", nil, fmt.Errorf("%w: %q", ErrBadVersion, strings.TrimSpace(verLine))
	}

	line, err := r.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, fmt.Errorf("%w: empty command line", ErrBadFrame)
	}

	var raw interface{}
	if err := codec.NewDecoder(r, msgpackHandle).Decode(&raw); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	rawMap, ok := raw.(map[string]interface{})
	if !ok {
		return "", nil, ErrBadPayload
	}
	args := make(map[string]interface{}, len(rawMap))
	for k, v := range rawMap {
		nv, err := normalizeValue(v)
		if err != nil {
			return "", nil, fmt.Errorf("argument %q: %w", k, err)
		}
		args[k] = nv
	}

	eom, err := r.ReadString('\n')
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	if strings.TrimSpace(eom) != terminator {
		return "", nil, fmt.Errorf("%w: missing terminator", ErrBadFrame)
	}

	return line, args, nil
}
