// Package client is a typed HTTP client for the equipment visualizer API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/chemviz/equipment-visualizer/internal/model"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response carrying the server's detail message
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Detail, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one server. It is safe for concurrent use once the token is set.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// New creates a client for baseURL, e.g. http://localhost:8000
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// HTTPClient exposes the underlying transport client
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// SetToken sets the bearer token used on authenticated calls
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current bearer token
func (c *Client) Token() string {
	return c.token
}

// Register creates an account and keeps the returned token
func (c *Client) Register(ctx context.Context, req *model.UserRegister) (*model.TokenResponse, error) {
	var resp model.TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", req, &resp); err != nil {
		return nil, err
	}
	c.token = resp.AccessToken
	return &resp, nil
}

// Login authenticates and keeps the returned token
func (c *Client) Login(ctx context.Context, username, password string) (*model.TokenResponse, error) {
	var resp model.TokenResponse
	body := model.UserLogin{Username: username, Password: password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return nil, err
	}
	c.token = resp.AccessToken
	return &resp, nil
}

// Logout revokes the current token
func (c *Client) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// Me returns the authenticated user
func (c *Client) Me(ctx context.Context) (*model.UserInfo, error) {
	var resp struct {
		User *model.UserInfo `json:"user"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Upload sends a CSV file as multipart form field "file"
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (*model.UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/datasets/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp model.UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns the retained datasets, newest first
func (c *Client) History(ctx context.Context) ([]model.DatasetSummary, error) {
	var resp model.HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/datasets/history", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Dataset returns one dataset with its rows
func (c *Client) Dataset(ctx context.Context, id int) (*model.Dataset, error) {
	var resp struct {
		Data *model.Dataset `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/datasets/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Summary returns a dataset and its recomputed analysis
func (c *Client) Summary(ctx context.Context, id int) (*model.SummaryResponse, error) {
	var resp model.SummaryResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/datasets/%d/summary", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Report streams the PDF report into w and returns the server's filename
func (c *Client) Report(ctx context.Context, id int, w io.Writer) (string, error) {
	return c.download(ctx, fmt.Sprintf("/api/datasets/%d/report", id), fmt.Sprintf("report_%d.pdf", id), w)
}

// Original streams the uploaded CSV of a dataset into w and returns its
// filename
func (c *Client) Original(ctx context.Context, id int, w io.Writer) (string, error) {
	return c.download(ctx, fmt.Sprintf("/api/datasets/%d/file", id), fmt.Sprintf("dataset_%d.csv", id), w)
}

func (c *Client) download(ctx context.Context, path, fallback string, w io.Writer) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	filename := fallback
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = filepath.Base(params["filename"])
	}
	return filename, nil
}

// Delete removes a dataset
func (c *Client) Delete(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/datasets/%d", id), nil, nil)
}

// Prune runs the retention sweep on the server; admin only
func (c *Client) Prune(ctx context.Context) (int, error) {
	var resp struct {
		Evicted int `json:"evicted"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/admin/prune", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Evicted, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", c.baseURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil {
		apiErr.Detail = body.Detail
	}
	return apiErr
}
