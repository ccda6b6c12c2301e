package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"fieldsync/internal/fieldsync"
)

// classifyStatus maps an HTTP status to a result kind. op is empty for reads.
func classifyStatus(op fieldsync.Operation, status int, reason string) fieldsync.Result {
	res := fieldsync.Result{StatusCode: status, Reason: reason}
	switch {
	case status >= 200 && status < 300:
		res.Kind = fieldsync.ResultConfirmed
	case status == http.StatusNotFound && op == fieldsync.OpDelete:
		// Already gone.
		res.Kind = fieldsync.ResultConfirmed
	case status == http.StatusNotFound:
		res.Kind = fieldsync.ResultPermanent
		res.NotFound = true
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		res.Kind = fieldsync.ResultConflict
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		res.Kind = fieldsync.ResultRetryable
	case status >= 500:
		// The server may have applied the request before failing.
		res.Kind = fieldsync.ResultRetryable
		res.Ambiguous = true
	default:
		res.Kind = fieldsync.ResultPermanent
	}
	return res
}

// classifyTransportError maps a failed round trip to a retryable result.
// Only failures to connect are known not to have reached the server.
func classifyTransportError(err error) fieldsync.Result {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fieldsync.Retryable(fmt.Sprintf("unreachable: %v", err), false)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fieldsync.Retryable(fmt.Sprintf("unreachable: %v", err), false)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fieldsync.Retryable("timeout", true)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fieldsync.Retryable("timeout", true)
	}
	return fieldsync.Retryable(err.Error(), true)
}
