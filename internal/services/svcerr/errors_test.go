package svcerr

import (
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCodeOf(t *testing.T) {
	err := FailedPrecondition(CodeInsufficientBalance, "Requested amount %s exceeds available balance %s", "200.00", "100.00")
	if CodeOf(err) != CodeInsufficientBalance {
		t.Fatalf("CodeOf = %q, want %q", CodeOf(err), CodeInsufficientBalance)
	}

	wrapped := fmt.Errorf("creating payout: %w", err)
	if CodeOf(wrapped) != CodeInsufficientBalance {
		t.Fatalf("CodeOf wrapped = %q, want %q", CodeOf(wrapped), CodeInsufficientBalance)
	}

	if CodeOf(fmt.Errorf("plain")) != "" {
		t.Fatal("CodeOf on non-service error should be empty")
	}
	if CodeOf(nil) != "" {
		t.Fatal("CodeOf(nil) should be empty")
	}
}

func TestStatusFromError(t *testing.T) {
	cases := []struct {
		err  *Error
		want codes.Code
	}{
		{Validation("bad input"), codes.InvalidArgument},
		{NotFound("missing"), codes.NotFound},
		{InvalidOperation("nope"), codes.FailedPrecondition},
		{AlreadyExists(CodePendingRequestExists, "in flight"), codes.AlreadyExists},
		{Unavailable(CodeGatewayServiceError, "down"), codes.Unavailable},
		{Internal("boom"), codes.Internal},
	}

	for _, tc := range cases {
		s, ok := status.FromError(tc.err)
		if !ok {
			t.Fatalf("status.FromError(%v) not ok", tc.err)
		}
		if s.Code() != tc.want {
			t.Fatalf("code for %q = %v, want %v", tc.err.Code, s.Code(), tc.want)
		}
		if s.Message() != tc.err.Message {
			t.Fatalf("message = %q, want %q", s.Message(), tc.err.Message)
		}
	}
}
