// Package svcerr carries the service-layer error taxonomy. Errors keep
// a stable machine code for API clients and a grpc status code so the
// HTTP gateway can keep mapping responses through status.FromError.
package svcerr

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	CodeValidationError          = "VALIDATION_ERROR"
	CodeNotFound                 = "NOT_FOUND"
	CodeInvalidOperation         = "INVALID_OPERATION"
	CodeInvalidStatus            = "INVALID_STATUS"
	CodeInvalidStatusTransition  = "INVALID_STATUS_TRANSITION"
	CodeAmountTooLow             = "AMOUNT_TOO_LOW"
	CodeAmountTooHigh            = "AMOUNT_TOO_HIGH"
	CodeInsufficientBalance      = "INSUFFICIENT_BALANCE"
	CodeLimitExceeded            = "LIMIT_EXCEEDED"
	CodePaymentMethodNotFound    = "PAYMENT_METHOD_NOT_FOUND"
	CodePaymentMethodNotVerified = "PAYMENT_METHOD_NOT_VERIFIED"
	CodePendingRequestExists     = "PENDING_REQUEST_EXISTS"
	CodeCannotCancel             = "CANNOT_CANCEL"
	CodePaymentGatewayError      = "PAYMENT_GATEWAY_ERROR"
	CodeGatewayServiceError      = "GATEWAY_SERVICE_ERROR"
	CodeBulkProcessingError      = "BULK_PROCESSING_ERROR"
	CodeNoValidPayouts           = "NO_VALID_PAYOUTS"
)

type Error struct {
	Code     string
	GrpcCode codes.Code
	Message  string
}

func New(grpcCode codes.Code, code, format string, args ...interface{}) *Error {
	return &Error{
		Code:     code,
		GrpcCode: grpcCode,
		Message:  fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	return e.Message
}

// GRPCStatus makes status.FromError recognize the error.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.GrpcCode, e.Message)
}

// CodeOf returns the taxonomy code carried by err, or "" when err is
// not a service error.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func NotFound(format string, args ...interface{}) *Error {
	return New(codes.NotFound, CodeNotFound, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return New(codes.InvalidArgument, CodeValidationError, format, args...)
}

func InvalidOperation(format string, args ...interface{}) *Error {
	return New(codes.FailedPrecondition, CodeInvalidOperation, format, args...)
}

func FailedPrecondition(code, format string, args ...interface{}) *Error {
	return New(codes.FailedPrecondition, code, format, args...)
}

func AlreadyExists(code, format string, args ...interface{}) *Error {
	return New(codes.AlreadyExists, code, format, args...)
}

func Unavailable(code, format string, args ...interface{}) *Error {
	return New(codes.Unavailable, code, format, args...)
}

func Internal(format string, args ...interface{}) *Error {
	return New(codes.Internal, "INTERNAL", format, args...)
}
