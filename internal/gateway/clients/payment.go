package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"afflink-system/config"
	"afflink-system/internal/database/models"
	payouts "afflink-system/internal/services/payouts/handler"
)

// PaymentGatewayClient talks to the external settlement provider over
// HTTP. It implements the payout service's PaymentGateway interface; a
// non-2xx response or transport failure is returned as an error so the
// caller can distinguish unreachable from declined.
type PaymentGatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewPaymentGatewayClient(cfg config.GatewayConfig) *PaymentGatewayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PaymentGatewayClient{
		baseURL:    cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type payoutRequestBody struct {
	PayoutID      int64  `json:"payout_id"`
	MarketerID    int64  `json:"marketer_id"`
	Amount        string `json:"amount"`
	NetAmount     string `json:"net_amount"`
	MethodType    string `json:"method_type,omitempty"`
	AccountDetail string `json:"account_details,omitempty"`
}

func toPayoutBody(p *models.PayoutRequest) payoutRequestBody {
	body := payoutRequestBody{
		PayoutID:   p.ID,
		MarketerID: p.MarketerID,
		Amount:     p.Amount,
		NetAmount:  p.NetAmount,
	}
	if p.PaymentMethod != nil {
		body.MethodType = p.PaymentMethod.MethodType
		body.AccountDetail = p.PaymentMethod.AccountDetails
	}
	return body
}

func (c *PaymentGatewayClient) Process(ctx context.Context, payout *models.PayoutRequest) (*payouts.GatewayResult, error) {
	var result payouts.GatewayResult
	if err := c.post(ctx, "/payouts", toPayoutBody(payout), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type bulkRequestBody struct {
	BatchRef string              `json:"batch_ref"`
	Payouts  []payoutRequestBody `json:"payouts"`
}

func (c *PaymentGatewayClient) ProcessBulk(ctx context.Context, batchRef string, payoutList []models.PayoutRequest) (*payouts.BulkGatewayResult, error) {
	body := bulkRequestBody{BatchRef: batchRef, Payouts: make([]payoutRequestBody, 0, len(payoutList))}
	for i := range payoutList {
		body.Payouts = append(body.Payouts, toPayoutBody(&payoutList[i]))
	}

	var result payouts.BulkGatewayResult
	if err := c.post(ctx, "/payouts/bulk", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *PaymentGatewayClient) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payment gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("payment gateway returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
