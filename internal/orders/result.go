package orders

// Result is the outcome envelope every service operation returns. Data is only
// meaningful when Success is true; Err is only set when it is false.
type Result[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
	Err     *Error `json:"error,omitempty"`
}

func Ok[T any](data T, msg string) Result[T] {
	return Result[T]{Success: true, Message: msg, Data: data}
}

func Fail[T any](err *Error) Result[T] {
	return Result[T]{Message: err.Message, Err: err}
}

func (r Result[T]) Kind() Kind {
	if r.Err == nil {
		return 0
	}
	return r.Err.Kind
}

// Unwrap converts the envelope to Go's (value, error) form.
func (r Result[T]) Unwrap() (T, error) {
	if r.Err != nil {
		var zero T
		return zero, r.Err
	}
	return r.Data, nil
}
