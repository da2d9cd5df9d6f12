// Package router talks to the LI.FI swap/bridge aggregator. The agent treats
// it as an opaque router: it consumes quote payloads and terminal statuses
// and never interprets how a route is executed.
package router

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	agenterr "github.com/zeusfi/yield-agent/internal/errors"
	"github.com/zeusfi/yield-agent/internal/httpx"
	"github.com/zeusfi/yield-agent/internal/registry"
)

const (
	defaultSlippage      = 0.03
	statusPollInterval   = 10 * time.Second
	completionWaitCeiling = 30 * time.Minute
)

type Client struct {
	http      *httpx.Client
	baseURL   string
	statusURL string
	apiKey    string
}

func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{
		http:      httpClient,
		baseURL:   registry.LiFiBaseURL,
		statusURL: registry.LiFiStatusURL,
		apiKey:    apiKey,
	}
}

// QuoteRequest asks for a route from one token to another, same-chain or
// cross-chain. FromAddress is the vault that will execute the calldata.
type QuoteRequest struct {
	FromChain   int64
	FromToken   string
	FromAmount  *big.Int
	ToChain     int64
	ToToken     string
	FromAddress string
	// ToAddress receives the routed funds when it differs from FromAddress,
	// e.g. the destination-chain vault on a bridge.
	ToAddress string
	Slippage  float64
}

// TransactionRequest is the executable payload of a quote.
type TransactionRequest struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Value    string `json:"value"`
	GasLimit string `json:"gasLimit"`
	ChainID  int64  `json:"chainId"`
}

type Quote struct {
	ID                 string             `json:"id"`
	Tool               string             `json:"tool"`
	ApprovalAddress    string             `json:"-"`
	EstimatedToAmount  string             `json:"-"`
	EstimatedGasUSD    float64            `json:"-"`
	TransactionRequest TransactionRequest `json:"transactionRequest"`
}

// Calldata returns the quote's transaction payload as raw bytes, or an error
// when the router returned no executable transaction.
func (q Quote) Calldata() ([]byte, error) {
	data := strings.TrimSpace(q.TransactionRequest.Data)
	if data == "" || data == "0x" {
		return nil, agenterr.New(agenterr.CodeQuote, "router quote has no executable transaction")
	}
	clean := strings.TrimPrefix(strings.TrimPrefix(data, "0x"), "0X")
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.CodeQuote, "decode router calldata", err)
	}
	return buf, nil
}

type quoteResponse struct {
	ID       string `json:"id"`
	Tool     string `json:"tool"`
	Estimate struct {
		ToAmount        string `json:"toAmount"`
		ApprovalAddress string `json:"approvalAddress"`
		GasCosts        []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"gasCosts"`
	} `json:"estimate"`
	TransactionRequest TransactionRequest `json:"transactionRequest"`
}

// Quote fetches a route. A response without an executable transaction is a
// CodeQuote error; transport failures surface as CodeUnavailable.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if req.FromAmount == nil || req.FromAmount.Sign() <= 0 {
		return Quote{}, agenterr.New(agenterr.CodeUsage, "quote amount must be positive")
	}
	slippage := req.Slippage
	if slippage <= 0 {
		slippage = defaultSlippage
	}

	vals := url.Values{}
	vals.Set("fromChain", strconv.FormatInt(req.FromChain, 10))
	vals.Set("toChain", strconv.FormatInt(req.ToChain, 10))
	vals.Set("fromToken", strings.ToLower(strings.TrimSpace(req.FromToken)))
	vals.Set("toToken", strings.ToLower(strings.TrimSpace(req.ToToken)))
	vals.Set("fromAmount", req.FromAmount.String())
	vals.Set("fromAddress", strings.ToLower(strings.TrimSpace(req.FromAddress)))
	if addr := strings.ToLower(strings.TrimSpace(req.ToAddress)); addr != "" {
		vals.Set("toAddress", addr)
	}
	vals.Set("slippage", strconv.FormatFloat(slippage, 'f', 6, 64))

	hReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+vals.Encode(), nil)
	if err != nil {
		return Quote{}, agenterr.Wrap(agenterr.CodeInternal, "build router quote request", err)
	}
	c.setAuth(hReq)

	var resp quoteResponse
	if _, err := c.http.DoJSON(ctx, hReq, &resp); err != nil {
		return Quote{}, err
	}
	if strings.TrimSpace(resp.TransactionRequest.To) == "" || strings.TrimSpace(resp.TransactionRequest.Data) == "" {
		return Quote{}, agenterr.New(agenterr.CodeQuote, "router quote missing executable transaction payload")
	}
	gasUSD := 0.0
	for _, item := range resp.Estimate.GasCosts {
		v, _ := strconv.ParseFloat(item.AmountUSD, 64)
		gasUSD += v
	}
	return Quote{
		ID:                 resp.ID,
		Tool:               resp.Tool,
		ApprovalAddress:    resp.Estimate.ApprovalAddress,
		EstimatedToAmount:  resp.Estimate.ToAmount,
		EstimatedGasUSD:    gasUSD,
		TransactionRequest: resp.TransactionRequest,
	}, nil
}

func (c *Client) setAuth(req *http.Request) {
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("x-lifi-api-key", c.apiKey)
	}
}
