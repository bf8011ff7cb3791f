package queue

import amqp "github.com/rabbitmq/amqp091-go"

// RetryHeader is the delivery header tracking bounded requeue attempts
// (spec.md §4.7 "nack with requeue, bounded retry count in the header").
const RetryHeader = "x-retry-count"

// RetryCount reads the current attempt count from a delivery's headers.
func RetryCount(d amqp.Delivery) int {
	if d.Headers == nil {
		return 0
	}
	v, ok := d.Headers[RetryHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// WithIncrementedRetry returns headers with the retry counter incremented,
// for republishing a message one more time instead of nack-requeue (which
// would not let us observe or cap the attempt count).
func WithIncrementedRetry(d amqp.Delivery) amqp.Table {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = int32(RetryCount(d) + 1)
	return headers
}
