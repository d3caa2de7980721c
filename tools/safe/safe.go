// Package safe keeps a panicking callback from taking a loop goroutine down.
package safe

import (
	"go.uber.org/zap"

	"quizlink/tools/errs"
)

// Call runs fn; a panic comes back as errs.ErrPanic and is logged under what.
func Call(log *zap.Logger, what string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
			if log != nil {
				log.Error("panic recovered", zap.String("in", what), zap.Error(err))
			}
		}
	}()
	fn()
	return nil
}

// Go runs fn on a new goroutine through Call.
func Go(log *zap.Logger, what string, fn func()) {
	go func() { _ = Call(log, what, fn) }()
}
