package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

const (
	CodeAuth          = 1001
	CodeOutage        = 1002
	CodeNotConnected  = 1003
	CodeQueuedOffline = 1004
	CodeDropped       = 1005
	CodeClosed        = 1006

	CodeInvalidState    = 2001
	CodeAlreadyAnswered = 2002
	CodeTimeExpired     = 2003
)

var (
	// ErrAuth is terminal for the attempt and never retried.
	ErrAuth   = NewCodeError(CodeAuth, "authentication failed")
	// ErrOutage means reconnects kept failing past the outage budget.
	ErrOutage = NewCodeError(CodeOutage, "connection outage")

	ErrNotConnected    = NewCodeError(CodeNotConnected, "not connected")
	ErrQueuedOffline   = NewCodeError(CodeQueuedOffline, "queued for offline delivery")
	ErrDropped         = NewCodeError(CodeDropped, "best-effort message dropped")
	ErrClosed          = NewCodeError(CodeClosed, "closed")
	ErrInvalidState    = NewCodeError(CodeInvalidState, "invalid state")
	ErrAlreadyAnswered = NewCodeError(CodeAlreadyAnswered, "question already answered")
	ErrTimeExpired     = NewCodeError(CodeTimeExpired, "answer time expired")
)

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// WrapMsg returns a copy of e carrying msg and kv as detail, with a stack attached.
func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	ret := &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if ret.Detail == "" {
			ret.Detail = detail
		} else {
			ret.Detail += ", " + detail
		}
	}
	return pkgerrors.WithStack(ret)
}

// Is matches any CodeError with the same code, so errors.Is(err, ErrAuth) holds for
// every detail-carrying copy of ErrAuth.
func (e *CodeError) Is(target error) bool {
	var ce *CodeError
	if !errors.As(target, &ce) {
		return false
	}
	return ce.Code == e.Code
}

const initialCapacity = 3

func (e *CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Code returns the code of the first CodeError in err's chain, or 0.
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, toString(msg, kv))
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
