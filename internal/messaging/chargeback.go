package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const ChargebackSubject = "risk.chargebacks"

type chargebackRequest struct {
	Email string `json:"email"`
}

type chargebackResponse struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

type requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// ChargebackClient asks the disputes service for a customer's chargeback count over NATS
// request/reply.
type ChargebackClient struct {
	nc      requester
	subject string
	timeout time.Duration
}

func NewChargebackClient(nc *nats.Conn, timeout time.Duration) *ChargebackClient {
	return &ChargebackClient{nc: nc, subject: ChargebackSubject, timeout: timeout}
}

func (c *ChargebackClient) Chargebacks(ctx context.Context, email string) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := json.Marshal(chargebackRequest{Email: email})
	if err != nil {
		return 0, err
	}
	msg, err := c.nc.RequestWithContext(ctx, c.subject, req)
	if err != nil {
		return 0, fmt.Errorf("chargeback lookup: %w", err)
	}
	return decodeChargebacks(msg.Data)
}

func decodeChargebacks(data []byte) (int, error) {
	var resp chargebackResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("decode chargeback reply: %w", err)
	}
	if resp.Error != "" {
		return 0, errors.New("chargeback service: " + resp.Error)
	}
	if resp.Count < 0 {
		return 0, fmt.Errorf("chargeback service returned %d", resp.Count)
	}
	return resp.Count, nil
}
