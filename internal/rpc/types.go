// Package rpc talks JSON-RPC to vantage points.
//
// Every failure mode of a call is folded into a Result carrying an *Error,
// so callers treat "no data from this vantage/method" as absence rather
// than a fault.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/xtxerr/podwatch/config"
	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/validation"
)

// =============================================================================
// Vantage Points
// =============================================================================

// VantagePoint is one statically configured RPC endpoint.
type VantagePoint struct {
	Host string
	Port int
}

// ParseVantagePoint accepts "host" or "host:port".
func ParseVantagePoint(s string) (VantagePoint, error) {
	hp, err := validation.ParseHostPort(s, config.DefaultRPCPort)
	if err != nil {
		return VantagePoint{}, err
	}
	return VantagePoint{Host: hp.Host, Port: hp.Port}, nil
}

// String returns host:port. It is the identity used in peer_sources.
func (vp VantagePoint) String() string {
	return net.JoinHostPort(vp.Host, strconv.Itoa(vp.Port))
}

// URL returns the JSON-RPC endpoint for path.
func (vp VantagePoint) URL(path string) string {
	return "http://" + vp.String() + path
}

// =============================================================================
// Methods
// =============================================================================

// Method is a vantage point RPC method name.
type Method string

const (
	MethodGetVersion       Method = "get-version"
	MethodGetStats         Method = "get-stats"
	MethodGetPodsWithStats Method = "get-pods-with-stats"
	MethodGetPods          Method = "get-pods"
)

// =============================================================================
// Errors
// =============================================================================

// ErrorKind classifies why a call produced no data.
type ErrorKind int

const (
	KindUnreachable ErrorKind = iota
	KindTimeout
	KindHTTPStatus
	KindMalformed
	KindRemote
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindMalformed:
		return "malformed"
	case KindRemote:
		return "remote"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the uniform shape of every failed call.
type Error struct {
	VantagePoint string    `json:"vantage_point"`
	Method       Method    `json:"method"`
	Reason       string    `json:"reason"`
	Kind         ErrorKind `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s %s: %s", e.VantagePoint, e.Method, e.Reason)
}

// Unwrap maps the kind onto the shared sentinel taxonomy.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindTimeout:
		return errors.ErrTimeout
	case KindHTTPStatus, KindUnreachable:
		return errors.ErrVantageUnreachable
	case KindMalformed:
		return errors.ErrMalformedResponse
	case KindRemote:
		return errors.ErrRemote
	default:
		return errors.ErrVantageUnreachable
	}
}

// =============================================================================
// Result
// =============================================================================

// Result is either the raw JSON "result" member or an *Error.
type Result struct {
	Value json.RawMessage
	Err   *Error
}

// OK reports whether the call produced data.
func (r Result) OK() bool {
	return r.Err == nil
}

// Decode unmarshals the result value into v. A decode failure is reported
// as a malformed-response error for the same vantage and method.
func (r Result) Decode(vp string, m Method, v any) *Error {
	if r.Err != nil {
		return r.Err
	}
	if err := json.Unmarshal(r.Value, v); err != nil {
		return &Error{VantagePoint: vp, Method: m, Reason: "decode result: " + err.Error(), Kind: KindMalformed}
	}
	return nil
}

// Caller issues one call to one vantage point.
type Caller interface {
	Call(ctx context.Context, vp VantagePoint, method Method) Result
}
