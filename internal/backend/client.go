// Package backend implements the REST client for the off-chain system of
// record. Every write mirrors an already-confirmed on-chain fact and carries
// the confirming transaction hash; the backend treats a repeated hash as a
// duplicate, so retries are safe.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/omenlabs/omend/internal/domain"
)

// Client is the REST client for the backend service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a backend client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// MarkResolved records that a market was resolved on-chain.
func (c *Client) MarkResolved(ctx context.Context, marketID string, outcome domain.Outcome, txHash string) error {
	path := fmt.Sprintf("/markets/%s/resolution", url.PathEscape(marketID))
	body := map[string]string{
		"outcome": string(outcome),
		"tx_hash": txHash,
	}
	if err := c.doPost(ctx, path, body); err != nil {
		return fmt.Errorf("backend: mark resolved %s: %w", marketID, err)
	}
	return nil
}

// RecordTrade records a confirmed trade fill.
func (c *Client) RecordTrade(ctx context.Context, row domain.TradeRow) error {
	body := map[string]string{
		"market_id": row.MarketID,
		"wallet":    row.Wallet,
		"side":      string(row.Side),
		"direction": string(row.Direction),
		"tx_hash":   row.TxHash,
	}
	if row.Amount != nil {
		body["amount"] = row.Amount.String()
	}
	if row.Shares != nil {
		body["shares"] = row.Shares.String()
	}
	if err := c.doPost(ctx, "/trades", body); err != nil {
		return fmt.Errorf("backend: record trade %s: %w", row.MarketID, err)
	}
	return nil
}

// MarkClaimed records that winnings were claimed on-chain.
func (c *Client) MarkClaimed(ctx context.Context, marketID, wallet, txHash string) error {
	path := fmt.Sprintf("/markets/%s/claims", url.PathEscape(marketID))
	body := map[string]string{
		"wallet":  wallet,
		"tx_hash": txHash,
	}
	if err := c.doPost(ctx, path, body); err != nil {
		return fmt.Errorf("backend: mark claimed %s: %w", marketID, err)
	}
	return nil
}

// RecordFaucetGrant records a confirmed faucet claim in the reward ledger.
func (c *Client) RecordFaucetGrant(ctx context.Context, wallet string, amount *big.Int, txHash string) error {
	body := map[string]string{
		"wallet":  wallet,
		"tx_hash": txHash,
	}
	if amount != nil {
		body["amount"] = amount.String()
	}
	if err := c.doPost(ctx, "/faucet/grants", body); err != nil {
		return fmt.Errorf("backend: record faucet grant %s: %w", wallet, err)
	}
	return nil
}

// CreateMarket records a newly created market.
func (c *Client) CreateMarket(ctx context.Context, row domain.MarketRow) error {
	body := map[string]string{
		"market_id": row.MarketID,
		"creator":   row.Creator,
		"question":  row.Question,
		"end_time":  row.EndTime.UTC().Format(time.RFC3339),
		"tx_hash":   row.TxHash,
	}
	if err := c.doPost(ctx, "/markets", body); err != nil {
		return fmt.Errorf("backend: create market %s: %w", row.MarketID, err)
	}
	return nil
}

// doPost sends a JSON body and interprets the response. 2xx succeeds; 409
// also succeeds because it means the same hash was already recorded by an
// earlier attempt.
func (c *Client) doPost(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusConflict {
		// Already recorded for this hash; idempotent success.
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
}

var _ domain.Backend = (*Client)(nil)
