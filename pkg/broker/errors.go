package broker

import (
	stderrors "errors"

	"github.com/bodograumann/Propan/pkg/errors"
)

// Error codes for the broker runtime, following the
// CodeXxx/ErrXxx(...) convention used across this module's packages.
const (
	CodeTransportError     = "BROKER_TRANSPORT_ERROR"
	CodeEncodeUnsupported  = "BROKER_ENCODE_UNSUPPORTED"
	CodeDecodeError        = "BROKER_DECODE_ERROR"
	CodeHandlerInvocation  = "BROKER_HANDLER_INVOCATION"
	CodeSkipMessage        = "BROKER_SKIP_MESSAGE"
	CodeConfigurationError = "BROKER_CONFIGURATION_ERROR"
	CodeBrokerClosed       = "BROKER_CLOSED"
	CodeTimeout            = "BROKER_RPC_TIMEOUT"
)

// ErrTransportError wraps a connectivity or protocol failure reported
// by a Driver.
func ErrTransportError(err error) *errors.AppError {
	return errors.New(CodeTransportError, "transport operation failed", err)
}

// ErrEncodeUnsupported is returned by Encode for values of an
// unsupported kind.
func ErrEncodeUnsupported() *errors.AppError {
	return errors.New(CodeEncodeUnsupported, "value cannot be encoded for publishing", nil)
}

// ErrDecodeError wraps a payload that failed every fallback decode
// strategy (should not normally surface, since Decode is total).
func ErrDecodeError(err error) *errors.AppError {
	return errors.New(CodeDecodeError, "failed to decode message body", err)
}

// ErrHandlerInvocation wraps an argument-resolution failure or an error
// returned by a user handler, routed through the push-back watcher.
// Handler panics are not recovered.
func ErrHandlerInvocation(err error) *errors.AppError {
	return errors.New(CodeHandlerInvocation, "handler invocation failed", err)
}

// skipMessage is the sentinel a handler or the response handler raises
// to acknowledge and drop a message without retrying.
type skipMessage struct{}

func (skipMessage) Error() string { return "message skipped: acked without retry" }

// ErrSkipMessage is the sentinel error for SkipMessage semantics.
var ErrSkipMessage error = skipMessage{}

// IsSkipMessage reports whether err is (or wraps) ErrSkipMessage.
func IsSkipMessage(err error) bool {
	var target skipMessage
	return stderrors.As(err, &target)
}

// ErrConfigurationError reports synchronous misuse (e.g. RPC without a
// reply target) detected at publish/start time.
func ErrConfigurationError(msg string) *errors.AppError {
	return errors.New(CodeConfigurationError, msg, nil)
}

// ErrBrokerClosed is delivered to every pending RPC future on Close.
func ErrBrokerClosed() *errors.AppError {
	return errors.New(CodeBrokerClosed, "broker is closed", nil)
}

// ErrTimeout is returned by Publish when raiseTimeout is requested and
// the RPC future does not resolve before callbackTimeout elapses.
func ErrTimeout(destination string) *errors.AppError {
	return errors.New(CodeTimeout, "rpc callback timed out waiting for reply from "+destination, nil)
}
