package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the thin HTTP wrapper stashctl uses against a running
// stashd.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) accountPath(guildID, userID, suffix string) string {
	return "/v1/guilds/" + url.PathEscape(guildID) + "/users/" + url.PathEscape(userID) + suffix
}

func (c *Client) GetBalance(ctx context.Context, guildID, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, c.accountPath(guildID, userID, "/balance"), nil, &out)
	return out, err
}

func (c *Client) UpdateBalance(ctx context.Context, guildID, userID string, delta int64, reason string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, c.accountPath(guildID, userID, "/balance"), map[string]any{
		"delta":  delta,
		"reason": reason,
	}, &out)
	return out, err
}

func (c *Client) SetBalance(ctx context.Context, guildID, userID string, amount int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPut, c.accountPath(guildID, userID, "/balance"), map[string]any{
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, guildID, userID string, limit int) (map[string]any, error) {
	path := c.accountPath(guildID, userID, "/history")
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetBank(ctx context.Context, guildID, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, c.accountPath(guildID, userID, "/bank"), nil, &out)
	return out, err
}

func (c *Client) Deposit(ctx context.Context, guildID, userID string, amount int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, c.accountPath(guildID, userID, "/bank/deposits"), map[string]any{
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) Withdraw(ctx context.Context, guildID, userID string, amount int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, c.accountPath(guildID, userID, "/bank/withdrawals"), map[string]any{
		"amount": amount,
	}, &out)
	return out, err
}

func (c *Client) ExpandBank(ctx context.Context, guildID, userID string, quantity, level int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, c.accountPath(guildID, userID, "/bank/expansions"), map[string]any{
		"quantity": quantity,
		"level":    level,
	}, &out)
	return out, err
}

func (c *Client) LoanOptions(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/loans/options", nil, &out)
	return out, err
}

func (c *Client) GetLoan(ctx context.Context, guildID, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, c.accountPath(guildID, userID, "/loan"), nil, &out)
	return out, err
}

func (c *Client) TakeLoan(ctx context.Context, guildID, userID, optionID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, c.accountPath(guildID, userID, "/loan"), map[string]any{
		"option_id": optionID,
	}, &out)
	return out, err
}

func (c *Client) PayLoan(ctx context.Context, guildID, userID string, amount *int64) (map[string]any, error) {
	body := map[string]any{}
	if amount != nil {
		body["amount"] = *amount
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, c.accountPath(guildID, userID, "/loan/payments"), body, &out)
	return out, err
}

func (c *Client) ConsumeReminders(ctx context.Context, guildID, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, c.accountPath(guildID, userID, "/loan/reminders/consume"), map[string]any{}, &out)
	return out, err
}

func (c *Client) Transfer(ctx context.Context, guildID, fromUserID, toUserID string, amount int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/guilds/"+url.PathEscape(guildID)+"/transfers", map[string]any{
		"from_user_id": fromUserID,
		"to_user_id":   toUserID,
		"amount":       amount,
	}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
