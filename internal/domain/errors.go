package domain

import "errors"

var (
	// ErrNotFound: ресурс, аренда, соединение, отпечаток или запись не существуют.
	ErrNotFound = errors.New("not found")
	// ErrCapacityExceeded: достигнут жесткий лимит пула или хаба.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	ErrProbeTimeout    = errors.New("probe timeout")
	ErrStageTimeout    = errors.New("stage timeout")
	ErrPipelineTimeout = errors.New("pipeline timeout")

	// ErrAggregateDegraded: слишком много этапов завершились ошибкой.
	// Не возвращается вызывающему как ошибка, а отражается в классификации.
	ErrAggregateDegraded = errors.New("aggregate degraded")

	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyFinalized  = errors.New("validation record already finalized")
	ErrInvalidTransition = errors.New("invalid validation status transition")
	ErrUnauthenticated   = errors.New("unauthenticated")
)

// ErrorKind — тип результата для вызывающей стороны: можно ли повторить операцию.
type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindNotFound  ErrorKind = "not_found"
	KindCapacity  ErrorKind = "capacity_exceeded"
	KindTimeout   ErrorKind = "timeout"
	KindInvalid   ErrorKind = "invalid_input"
	KindDegraded  ErrorKind = "aggregate_degraded"
	KindInternal  ErrorKind = "internal"
	KindForbidden ErrorKind = "unauthenticated"
)

// Retryable: стоит ли клиенту повторить запрос позже.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindCapacity, KindTimeout, KindNotFound:
		return true
	default:
		return false
	}
}

// KindOf сводит ошибку к ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCapacityExceeded):
		return KindCapacity
	case errors.Is(err, ErrProbeTimeout), errors.Is(err, ErrStageTimeout), errors.Is(err, ErrPipelineTimeout):
		return KindTimeout
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidConfig):
		return KindInvalid
	case errors.Is(err, ErrAggregateDegraded):
		return KindDegraded
	case errors.Is(err, ErrUnauthenticated):
		return KindForbidden
	default:
		return KindInternal
	}
}

// Result — структурированный ответ наружу, флаг успеха + причина.
// Внутренние ошибки никогда не уходят клиенту "как есть".
type Result[T any] struct {
	OK        bool      `json:"ok"`
	Data      T         `json:"data,omitempty"`
	Kind      ErrorKind `json:"kind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
}

func Ok[T any](data T) Result[T] {
	return Result[T]{OK: true, Data: data}
}

func Fail[T any](err error) Result[T] {
	kind := KindOf(err)
	reason := err.Error()
	if kind == KindInternal {
		reason = "internal error"
	}
	return Result[T]{Kind: kind, Reason: reason, Retryable: kind.Retryable()}
}
