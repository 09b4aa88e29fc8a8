package source

import (
	"context"
	"fmt"
	"runtime/debug"

	apperrors "github.com/kbukum/fanout/errors"
)

// Func performs one lookup.
type Func func(ctx context.Context) Result

// Task is a named unit of work.
type Task struct {
	Name string
	Run  Func
}

// Safe returns a copy of t whose panics become Err(CodePanic, ...). A task
// with a nil Run yields an error result instead of panicking.
func Safe(t Task) Task {
	run := t.Run
	return Task{
		Name: t.Name,
		Run: func(ctx context.Context) (res Result) {
			defer func() {
				if r := recover(); r != nil {
					res = Err(CodePanic, fmt.Sprintf("%v", r))
					res.Data = panicStack(debug.Stack())
				}
			}()
			if run == nil {
				return Err(string(apperrors.ErrCodeTaskFailure), "task has no function")
			}
			return run(ctx)
		},
	}
}

// FromFunc adapts a function returning (value, error). An error becomes
// Err with the AppError code when present, else the error's Go type name.
// A nil value is NotFound; a Result value is passed through.
func FromFunc(name string, fn func(ctx context.Context) (any, error)) Task {
	return Task{
		Name: name,
		Run: func(ctx context.Context) Result {
			v, err := fn(ctx)
			if err != nil {
				return FromError(err)
			}
			switch r := v.(type) {
			case nil:
				return NotFound()
			case Result:
				return r
			default:
				return OK(r)
			}
		},
	}
}

// FromError converts err into a failed Result.
func FromError(err error) Result {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return Err(string(appErr.Code), appErr.Message)
	}
	return Err(apperrors.CodeOf(err), err.Error())
}

func panicStack(stack []byte) []byte {
	const limit = 2048
	if len(stack) > limit {
		stack = stack[:limit]
	}
	b, _ := encode(map[string]string{"stack": string(stack)})
	return b
}
