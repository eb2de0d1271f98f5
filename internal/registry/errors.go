package registry

import (
	"errors"
)

var (
	// ErrRegistryUnavailable 表示登记册不可达或处于维护状态。
	ErrRegistryUnavailable = errors.New("registry unavailable")
	// ErrMalformedPayload 表示返回的 JSON 结构不符合预期。
	ErrMalformedPayload = errors.New("registry payload malformed")
	// ErrNotFound 表示登记册中没有该 ISIN，属于正常结果。
	ErrNotFound = errors.New("isin not registered")
)

// classifyError 将查询错误映射为结果中的 ErrorKind。
func classifyError(err error) ErrorKind {
	if err == nil || errors.Is(err, ErrNotFound) {
		return ErrorNone
	}

	if errors.Is(err, ErrMalformedPayload) {
		return ErrorMalformedPayload
	}

	// 网络错误、超时、上下文取消以及 ErrRegistryUnavailable 均视为传输失败。
	return ErrorTransport
}

func newResult(isin string, records []Record, err error) *Result {
	kind := classifyError(err)
	result := &Result{
		ISIN:      isin,
		ErrorKind: kind,
	}
	if kind != ErrorNone {
		result.Err = err
		return result
	}
	if err == nil && len(records) > 0 {
		result.Found = true
		result.Records = records
	}
	return result
}
