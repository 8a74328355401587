package enums

type DeadLetterReason string

const (
	DeadLetterReasonMaxDeliveries DeadLetterReason = "max_deliveries"
	DeadLetterReasonNonRetryable  DeadLetterReason = "non_retryable"
)

var validDeadLetterReasons = []DeadLetterReason{
	DeadLetterReasonMaxDeliveries,
	DeadLetterReasonNonRetryable,
}

func (r DeadLetterReason) IsValid() bool {
	for _, candidate := range validDeadLetterReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
