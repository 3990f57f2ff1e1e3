// Package issue is a minimal GitHub REST client for the issue endpoints the
// deployer needs.
package issue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"isubo/internal/apperrors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAPIURL  = "https://api.github.com"
	DefaultTimeout = 30 * time.Second

	apiVersion = "2022-11-28"
	userAgent  = "isubo"
)

// Entry is a remote issue to create or update. Number is required for
// updates and ignored on create.
type Entry struct {
	Number int
	Title  string
	Body   string
	Labels []string
}

// Result is the tracker's answer to a create or update.
type Result struct {
	Number int             `json:"number"`
	URL    string          `json:"html_url"`
	Title  string          `json:"title"`
	Raw    json.RawMessage `json:"-"`
}

// Config holds client settings.
type Config struct {
	APIURL  string
	Owner   string
	Repo    string
	Token   string
	Timeout time.Duration
}

// Client talks to one repository's issues.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a Client with standard transport settings.
func New(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.With("component", "issue", "repo", cfg.Owner+"/"+cfg.Repo),
	}
}

type issueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// Create opens a new issue.
func (c *Client) Create(ctx context.Context, e Entry) (*Result, error) {
	if strings.TrimSpace(e.Title) == "" {
		return nil, apperrors.Validation("title", "issue title is required")
	}
	res, err := c.do(ctx, "issue create", http.MethodPost, c.repoPath("issues"), issueRequest{
		Title:  e.Title,
		Body:   e.Body,
		Labels: e.Labels,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Issue created", "number", res.Number, "title", e.Title)
	return res, nil
}

// Update replaces the title, body and labels of an existing issue.
func (c *Client) Update(ctx context.Context, e Entry) (*Result, error) {
	if e.Number <= 0 {
		return nil, apperrors.Validation("issue_number", "issue number is required to update")
	}
	if strings.TrimSpace(e.Title) == "" {
		return nil, apperrors.Validation("title", "issue title is required")
	}
	labels := e.Labels
	if labels == nil {
		labels = []string{}
	}
	res, err := c.do(ctx, "issue update", http.MethodPatch, c.repoPath(fmt.Sprintf("issues/%d", e.Number)), map[string]any{
		"title":  e.Title,
		"body":   e.Body,
		"labels": labels,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Issue updated", "number", res.Number, "title", e.Title)
	return res, nil
}

// Ready checks that the repository is reachable with the configured token.
func (c *Client) Ready(ctx context.Context) error {
	_, err := c.do(ctx, "repository lookup", http.MethodGet, c.repoPath(""), nil)
	return err
}

func (c *Client) repoPath(suffix string) string {
	p := "/repos/" + url.PathEscape(c.cfg.Owner) + "/" + url.PathEscape(c.cfg.Repo)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) (*Result, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && urlErr.Timeout() && ctx.Err() == nil {
			return nil, apperrors.Timeout(op, c.cfg.Timeout)
		}
		return nil, fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: reading response: %w", op, err)
	}
	c.logger.Debug("GitHub request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.FromStatus(op, resp.StatusCode, errorMessage(raw))
	}

	res := &Result{Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, res); err != nil {
			return nil, fmt.Errorf("%s: decoding response: %w", op, err)
		}
	}
	return res, nil
}

// errorMessage extracts GitHub's error message, falling back to the raw body.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}
