package kombat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"kombat-farm-bot/logging"

	"github.com/rs/zerolog"
)

const DefaultBaseURL = "https://api.hamsterkombatgame.io"

const (
	endpointSync             = "/clicker/sync"
	endpointTap              = "/clicker/tap"
	endpointBoosts           = "/clicker/boosts-for-buy"
	endpointUpgrades         = "/clicker/upgrades-for-buy"
	endpointTasks            = "/clicker/list-tasks"
	endpointBuyUpgrade       = "/clicker/buy-upgrade"
	endpointBuyBoost         = "/clicker/buy-boost"
	endpointCheckTask        = "/clicker/check-task"
	endpointClaimDailyCipher = "/clicker/claim-daily-cipher"
	endpointClaimDailyCombo  = "/clicker/claim-daily-combo"
	endpointConfig           = "/clicker/config"
	endpointAuthTelegram     = "/auth/me-telegram"
)

var userAgents = []string{
	"Mozilla/5.0 (Linux; Android 13; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.6261.105 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.6261.119 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 12; M2101K20G) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.6167.178 Mobile Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/122.0.6261.89 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/121.0.6167.171 Mobile/15E148 Safari/604.1",
}

// RequestError is returned for any non-2xx answer from the game.
type RequestError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("game api %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

// Client talks to the game backend. A Client is bound to one proxy for its
// whole life; use WithProxy to derive a client for another one.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string

	proxy string
	log   zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		UserAgent:  userAgents[rand.IntN(len(userAgents))],
		proxy:      "direct",
		log:        logging.For(logging.Kombat),
	}
}

// WithProxy returns a copy of c whose requests go through rt. label only
// shows up in logs.
func (c *Client) WithProxy(rt http.RoundTripper, label string) *Client {
	clone := *c
	clone.HTTPClient = &http.Client{Timeout: c.HTTPClient.Timeout, Transport: rt}
	clone.UserAgent = userAgents[rand.IntN(len(userAgents))]
	clone.proxy = label
	return &clone
}

func (c *Client) AuthTelegram(ctx context.Context, token string) (*TelegramUser, error) {
	var resp struct {
		TelegramUser *TelegramUser `json:"telegramUser"`
	}
	if err := c.do(ctx, http.MethodPost, endpointAuthTelegram, token, nil, &resp); err != nil {
		return nil, err
	}
	if resp.TelegramUser == nil {
		return nil, fmt.Errorf("%s: empty telegramUser", endpointAuthTelegram)
	}
	return resp.TelegramUser, nil
}

func (c *Client) Sync(ctx context.Context, token string) (*ClickerUser, error) {
	return c.clickerUser(ctx, endpointSync, token, nil)
}

func (c *Client) Tap(ctx context.Context, token string, availableTaps, count int) (*ClickerUser, error) {
	return c.clickerUser(ctx, endpointTap, token, map[string]any{
		"availableTaps": availableTaps,
		"count":         count,
		"timestamp":     time.Now().Unix(),
	})
}

func (c *Client) BuyUpgrade(ctx context.Context, token, upgradeID string) (*ClickerUser, error) {
	return c.clickerUser(ctx, endpointBuyUpgrade, token, map[string]any{
		"upgradeId": upgradeID,
		"timestamp": time.Now().Unix(),
	})
}

func (c *Client) BuyBoost(ctx context.Context, token, boostID string) (*ClickerUser, error) {
	return c.clickerUser(ctx, endpointBuyBoost, token, map[string]any{
		"boostId":   boostID,
		"timestamp": time.Now().Unix(),
	})
}

func (c *Client) ClaimDailyCombo(ctx context.Context, token string) (*ClickerUser, error) {
	return c.clickerUser(ctx, endpointClaimDailyCombo, token, nil)
}

func (c *Client) Boosts(ctx context.Context, token string) ([]Boost, error) {
	var resp struct {
		Boosts []Boost `json:"boostsForBuy"`
	}
	if err := c.do(ctx, http.MethodPost, endpointBoosts, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Boosts, nil
}

func (c *Client) Upgrades(ctx context.Context, token string) (*UpgradesForBuy, error) {
	var resp UpgradesForBuy
	if err := c.do(ctx, http.MethodPost, endpointUpgrades, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Tasks(ctx context.Context, token string) ([]Task, error) {
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodPost, endpointTasks, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) Config(ctx context.Context, token string) (*GameConfig, error) {
	var resp GameConfig
	if err := c.do(ctx, http.MethodPost, endpointConfig, token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ClaimDailyCipher(ctx context.Context, token, cipher string) (*ClickerUser, *DailyCipher, error) {
	var resp struct {
		ClickerUser *ClickerUser `json:"clickerUser"`
		DailyCipher *DailyCipher `json:"dailyCipher"`
	}
	if err := c.do(ctx, http.MethodPost, endpointClaimDailyCipher, token, map[string]any{"cipher": cipher}, &resp); err != nil {
		return nil, nil, err
	}
	if resp.ClickerUser == nil {
		return nil, nil, fmt.Errorf("%s: empty clickerUser", endpointClaimDailyCipher)
	}
	return resp.ClickerUser, resp.DailyCipher, nil
}

func (c *Client) CheckTask(ctx context.Context, token, taskID string) (*Task, *ClickerUser, error) {
	var resp struct {
		Task        *Task        `json:"task"`
		ClickerUser *ClickerUser `json:"clickerUser"`
	}
	if err := c.do(ctx, http.MethodPost, endpointCheckTask, token, map[string]any{"taskId": taskID}, &resp); err != nil {
		return nil, nil, err
	}
	if resp.Task == nil || resp.ClickerUser == nil {
		return nil, nil, fmt.Errorf("%s: incomplete response", endpointCheckTask)
	}
	return resp.Task, resp.ClickerUser, nil
}

func (c *Client) clickerUser(ctx context.Context, endpoint, token string, payload any) (*ClickerUser, error) {
	var resp struct {
		ClickerUser *ClickerUser `json:"clickerUser"`
	}
	if err := c.do(ctx, http.MethodPost, endpoint, token, payload, &resp); err != nil {
		return nil, err
	}
	if resp.ClickerUser == nil {
		return nil, fmt.Errorf("%s: empty clickerUser", endpoint)
	}
	return resp.ClickerUser, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", endpoint, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", endpoint, err)
	}
	c.setHeaders(req, token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s body: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(raw)}
	}

	c.log.Info().Str("endpoint", endpoint).Str("proxy", c.proxy).Msg("request to game api")

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	h := req.Header
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "ru,en;q=0.9,en-GB;q=0.8,en-US;q=0.7")
	h.Set("Origin", c.BaseURL)
	h.Set("Referer", c.BaseURL+"/")
	h.Set("sec-ch-ua", `"Chromium";v="122", "Not(A:Brand";v="24", "Android WebView";v="122"`)
	h.Set("sec-ch-ua-mobile", "?1")
	h.Set("X-Requested-With", "org.telegram.messenger")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-site")
	h.Set("User-Agent", c.UserAgent)
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}
