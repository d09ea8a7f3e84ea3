package handler

import (
	"context"
	"encoding/json"
	"testing"

	"afflink-system/internal/database/models"
	"afflink-system/internal/services/svcerr"
)

func TestCreatePaymentMethodValidatesDetailsPerType(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		methodType string
		details    string
		wantErr    bool
	}{
		{"bank transfer complete", models.PaymentMethodBankTransfer, `{"account_name":"A","account_number":"123","bank_name":"B"}`, false},
		{"bank transfer missing bank", models.PaymentMethodBankTransfer, `{"account_name":"A","account_number":"123"}`, true},
		{"paypal complete", models.PaymentMethodPaypal, `{"email":"a@b.c"}`, false},
		{"paypal empty email", models.PaymentMethodPaypal, `{"email":""}`, true},
		{"crypto complete", models.PaymentMethodCrypto, `{"address":"0xabc","network":"ethereum"}`, false},
		{"crypto missing network", models.PaymentMethodCrypto, `{"address":"0xabc"}`, true},
		{"unknown type", "carrier_pigeon", `{"coop":"roof"}`, true},
		{"not an object", models.PaymentMethodPaypal, `"a@b.c"`, true},
	}

	for i, tc := range cases {
		method, err := h.CreatePaymentMethod(ctx, int64(i+1), tc.methodType, json.RawMessage(tc.details))
		if tc.wantErr {
			if svcerr.CodeOf(err) != svcerr.CodeValidationError {
				t.Errorf("%s: got %v, want VALIDATION_ERROR", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if method.IsVerified {
			t.Errorf("%s: new method is verified", tc.name)
		}
		if method.VerificationStatus != models.VerificationStatusPending {
			t.Errorf("%s: verification status = %s, want pending", tc.name, method.VerificationStatus)
		}
	}
}

func TestVerifyPaymentMethod(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()

	created, err := h.CreatePaymentMethod(ctx, 1, models.PaymentMethodPaypal, json.RawMessage(`{"email":"a@b.c"}`))
	if err != nil {
		t.Fatalf("CreatePaymentMethod: %v", err)
	}

	verified, err := h.VerifyPaymentMethod(ctx, created.ID, 99, true, "")
	if err != nil {
		t.Fatalf("VerifyPaymentMethod: %v", err)
	}
	if !verified.IsVerified || verified.VerificationStatus != models.VerificationStatusVerified {
		t.Fatalf("method = %+v, want verified", verified)
	}

	// Already reviewed.
	_, err = h.VerifyPaymentMethod(ctx, created.ID, 99, false, "changed my mind")
	if svcerr.CodeOf(err) != svcerr.CodeInvalidOperation {
		t.Fatalf("second review: got %v, want INVALID_OPERATION", err)
	}
}

func TestRejectPaymentMethodRequiresReason(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()

	created, err := h.CreatePaymentMethod(ctx, 1, models.PaymentMethodCrypto, json.RawMessage(`{"address":"0xabc","network":"ethereum"}`))
	if err != nil {
		t.Fatalf("CreatePaymentMethod: %v", err)
	}

	_, err = h.VerifyPaymentMethod(ctx, created.ID, 99, false, "")
	if svcerr.CodeOf(err) != svcerr.CodeValidationError {
		t.Fatalf("got %v, want VALIDATION_ERROR", err)
	}

	rejected, err := h.VerifyPaymentMethod(ctx, created.ID, 99, false, "address failed checksum")
	if err != nil {
		t.Fatalf("reject with reason: %v", err)
	}
	if rejected.IsVerified || rejected.VerificationStatus != models.VerificationStatusRejected {
		t.Fatalf("method = %+v, want rejected", rejected)
	}
}

func TestListPaymentMethodsScopedToOwner(t *testing.T) {
	h, _, _ := newTestHandler(t)
	ctx := context.Background()

	if _, err := h.CreatePaymentMethod(ctx, 1, models.PaymentMethodPaypal, json.RawMessage(`{"email":"a@b.c"}`)); err != nil {
		t.Fatalf("CreatePaymentMethod: %v", err)
	}
	if _, err := h.CreatePaymentMethod(ctx, 2, models.PaymentMethodPaypal, json.RawMessage(`{"email":"x@y.z"}`)); err != nil {
		t.Fatalf("CreatePaymentMethod: %v", err)
	}

	methods, err := h.ListPaymentMethods(ctx, 1)
	if err != nil {
		t.Fatalf("ListPaymentMethods: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("got %d methods, want 1", len(methods))
	}
	if methods[0].UserID != 1 {
		t.Fatalf("method owner = %d, want 1", methods[0].UserID)
	}
}
