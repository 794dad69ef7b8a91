package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrNoCallDescriptor   = errors.New("no call descriptor")
	ErrParse              = errors.New("locator parse error")
	ErrBroker             = errors.New("token broker error")
	ErrMediaConnectFailed = errors.New("media connect failed")
	ErrPlaybackTimeout    = errors.New("playback timeout")
	ErrNotInCall          = errors.New("not in call")
	ErrNotFound           = errors.New("not found")
	ErrEmptySound         = errors.New("empty sound buffer")
	ErrInvalidRoomID      = errors.New("invalid room id")
	ErrInvalidUserID      = errors.New("invalid user id")
)

// Code is the stable, caller-facing name of an error.
type Code string

const (
	CodeNone               Code = ""
	CodeRoomNotFound       Code = "RoomNotFound"
	CodeNoCallDescriptor   Code = "NoCallDescriptor"
	CodeParseError         Code = "ParseError"
	CodeBrokerError        Code = "BrokerError"
	CodeMediaConnectFailed Code = "MediaConnectFailed"
	CodePlaybackTimeout    Code = "PlaybackTimeout"
	CodeNotInCall          Code = "NotInCall"
	CodeNotFound           Code = "NotFound"
	CodeEmptySound         Code = "EmptySound"
	CodeInvalidArgument    Code = "InvalidArgument"
	CodeCanceled           Code = "Canceled"
	CodeInternal           Code = "Internal"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrRoomNotFound, CodeRoomNotFound},
	{ErrNoCallDescriptor, CodeNoCallDescriptor},
	{ErrParse, CodeParseError},
	{ErrBroker, CodeBrokerError},
	{ErrMediaConnectFailed, CodeMediaConnectFailed},
	{ErrPlaybackTimeout, CodePlaybackTimeout},
	{ErrNotInCall, CodeNotInCall},
	{ErrNotFound, CodeNotFound},
	{ErrEmptySound, CodeEmptySound},
	{ErrInvalidRoomID, CodeInvalidArgument},
	{ErrInvalidUserID, CodeInvalidArgument},
}

// CodeOf maps err onto the taxonomy. Unknown errors become CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if errors.Is(err, errCanceled) || errors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	return CodeInternal
}

var errCanceled = errors.New("canceled")

// ErrJoinCanceled is returned to a join abandoned by a concurrent leave.
var ErrJoinCanceled = fmt.Errorf("join %w by leave", errCanceled)

type BrokerReason string

const (
	ReasonDiscoveryFailed     BrokerReason = "DiscoveryFailed"
	ReasonEndpointUnreachable BrokerReason = "EndpointUnreachable"
	ReasonTokenRejected       BrokerReason = "TokenRejected"
)

// BrokerError is a non-fatal token acquisition failure.
type BrokerError struct {
	Reason BrokerReason
	Err    error
}

func NewBrokerError(reason BrokerReason, err error) *BrokerError {
	return &BrokerError{Reason: reason, Err: err}
}

func (e *BrokerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("broker: %s", e.Reason)
	}
	return fmt.Sprintf("broker: %s: %v", e.Reason, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

func (e *BrokerError) Is(target error) bool { return target == ErrBroker }

// ReasonOf extracts the broker reason, if err carries one.
func ReasonOf(err error) (BrokerReason, bool) {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Reason, true
	}
	return "", false
}

func (r JoinResult) Code() Code  { return CodeOf(r.Err) }
func (r LeaveResult) Code() Code { return CodeOf(r.Err) }
func (r PlayResult) Code() Code  { return CodeOf(r.Err) }
