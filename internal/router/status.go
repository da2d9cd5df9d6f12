package router

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	agenterr "github.com/zeusfi/yield-agent/internal/errors"
)

// State classifies a cross-chain transfer as seen by the router.
type State string

const (
	StatePending  State = "PENDING"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
	StateNotFound State = "NOT_FOUND"
)

// StatusResult is the router's view of a previously submitted transfer.
// NotFound is an ordinary outcome: the router may not have indexed the
// transaction yet.
type StatusResult struct {
	State     State
	Substatus string
}

func (s StatusResult) Terminal() bool {
	return s.State == StateDone || s.State == StateFailed
}

type statusResponse struct {
	Status    string `json:"status"`
	Substatus string `json:"substatus"`
}

// Status queries the router for the state of a transfer by source tx hash.
func (c *Client) Status(ctx context.Context, txHash string) (StatusResult, error) {
	vals := url.Values{}
	vals.Set("txHash", txHash)

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL+"?"+vals.Encode(), nil)
	if err != nil {
		return StatusResult{}, agenterr.Wrap(agenterr.CodeInternal, "build router status request", err)
	}
	c.setAuth(hReq)

	var resp statusResponse
	httpRes, err := c.http.DoJSON(ctx, hReq, &resp)
	if err != nil {
		if httpRes != nil && httpRes.StatusCode == http.StatusNotFound {
			return StatusResult{State: StateNotFound}, nil
		}
		return StatusResult{}, err
	}

	switch strings.ToUpper(strings.TrimSpace(resp.Status)) {
	case "DONE":
		return StatusResult{State: StateDone, Substatus: resp.Substatus}, nil
	case "FAILED", "INVALID":
		return StatusResult{State: StateFailed, Substatus: resp.Substatus}, nil
	case "NOT_FOUND":
		return StatusResult{State: StateNotFound, Substatus: resp.Substatus}, nil
	default:
		return StatusResult{State: StatePending, Substatus: resp.Substatus}, nil
	}
}

// WaitForCompletion polls Status until the transfer reaches a terminal state.
// Transient transport errors are retried on the next tick. The wait is capped
// at thirty minutes, after which the caller gets a CodeTimeout error.
func (c *Client) WaitForCompletion(ctx context.Context, txHash string) (StatusResult, error) {
	deadline := time.Now().Add(completionWaitCeiling)
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		res, err := c.Status(ctx, txHash)
		if err == nil && res.Terminal() {
			return res, nil
		}
		if time.Now().After(deadline) {
			return StatusResult{}, agenterr.New(agenterr.CodeTimeout, "cross-chain transfer "+txHash+" not settled within 30m")
		}
		select {
		case <-ctx.Done():
			return StatusResult{}, agenterr.Wrap(agenterr.CodeTimeout, "wait for transfer "+txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}
