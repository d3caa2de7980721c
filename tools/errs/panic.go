package errs

import "fmt"

const CodePanic = 5000

// ErrPanic turns a recovered value into an error; nil stays nil.
func ErrPanic(r any) error {
	return ErrPanicMsg(r, CodePanic, "panic error")
}

func ErrPanicMsg(r any, code int, msg string) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return NewCodeError(code, msg).WrapMsg(err.Error())
	}
	return NewCodeError(code, msg).WrapMsg(fmt.Sprint(r))
}
