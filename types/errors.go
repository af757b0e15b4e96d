package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure of the exchange layer. All kinds are
// fatal under the default policy.
type ErrorKind uint8

const (
	ConfigMismatch ErrorKind = iota + 1
	ResourceExhausted
	ProtocolViolation
	TransportFailure
)

var (
	ErrConfigMismatch    = errors.New("config mismatch")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrTransportFailure  = errors.New("transport failure")
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigMismatch:
		return "ConfigMismatch"
	case ResourceExhausted:
		return "ResourceExhausted"
	case ProtocolViolation:
		return "ProtocolViolation"
	case TransportFailure:
		return "TransportFailure"
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// Sentinel returns the value errors.Is matches for this kind
func (k ErrorKind) Sentinel() error {
	switch k {
	case ConfigMismatch:
		return ErrConfigMismatch
	case ResourceExhausted:
		return ErrResourceExhausted
	case ProtocolViolation:
		return ErrProtocolViolation
	case TransportFailure:
		return ErrTransportFailure
	}
	return nil
}

// HaloError carries the kind, the offending rank/partner/round and the
// operation that failed.
type HaloError struct {
	Kind    ErrorKind
	Op      string
	Rank    Rank
	Partner Rank
	Round   int64 // -1 outside of a round
	Err     error
}

// Errorf builds a HaloError not yet tied to a rank, partner or round
func Errorf(kind ErrorKind, op, format string, args ...any) *HaloError {
	return &HaloError{
		Kind:    kind,
		Op:      op,
		Rank:    NoRank,
		Partner: NoRank,
		Round:   -1,
		Err:     fmt.Errorf(format, args...),
	}
}

// New always wraps err in a fresh HaloError of the given kind, even when err
// already carries one. Used when a failure is re-reported by a peer.
func New(kind ErrorKind, op string, err error) *HaloError {
	return &HaloError{
		Kind:    kind,
		Op:      op,
		Rank:    NoRank,
		Partner: NoRank,
		Round:   -1,
		Err:     err,
	}
}

// Wrap classifies err. An err that already is a HaloError keeps its kind and
// context, only unset fields are later filled by the With* helpers.
func Wrap(kind ErrorKind, op string, err error) *HaloError {
	if err == nil {
		return nil
	}
	var he *HaloError
	if errors.As(err, &he) {
		return he
	}
	return &HaloError{
		Kind:    kind,
		Op:      op,
		Rank:    NoRank,
		Partner: NoRank,
		Round:   -1,
		Err:     err,
	}
}

func (e *HaloError) WithRank(r Rank) *HaloError {
	if e.Rank == NoRank {
		e.Rank = r
	}
	return e
}

func (e *HaloError) WithPartner(p Rank) *HaloError {
	if e.Partner == NoRank {
		e.Partner = p
	}
	return e
}

func (e *HaloError) WithRound(round uint64) *HaloError {
	if e.Round < 0 {
		e.Round = int64(round)
	}
	return e
}

func (e *HaloError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		fmt.Fprintf(&b, " in %s", e.Op)
	}
	if e.Rank != NoRank {
		fmt.Fprintf(&b, " rank=%d", e.Rank)
	}
	if e.Partner != NoRank {
		fmt.Fprintf(&b, " partner=%d", e.Partner)
	}
	if e.Round >= 0 {
		fmt.Fprintf(&b, " round=%d", e.Round)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *HaloError) Unwrap() []error {
	return []error{e.Kind.Sentinel(), e.Err}
}

// KindOf returns the kind of the first HaloError in err's chain, zero if none
func KindOf(err error) ErrorKind {
	var he *HaloError
	if errors.As(err, &he) {
		return he.Kind
	}
	return 0
}
