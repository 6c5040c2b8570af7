package recommend

import "fmt"

// DeliveryError 주 경로와 폴백 경로가 모두 실패한 경우.
// 요청당 한 번만 표면화되고 자동 재시도는 없다.
type DeliveryError struct {
	RequestSeq  int64
	PrimaryErr  error
	FallbackErr error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("recommendation request %d failed on both paths: primary=%v, fallback=%v",
		e.RequestSeq, e.PrimaryErr, e.FallbackErr)
}

func (e *DeliveryError) Unwrap() error {
	return e.FallbackErr
}
