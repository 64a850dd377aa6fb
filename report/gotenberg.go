// Package report talks to a Gotenberg instance to turn HTML into PDF.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// PageOptions controls the Chromium page setup. Sizes are in inches.
type PageOptions struct {
	PaperWidth  float64
	PaperHeight float64
	Margin      float64
	Landscape   bool
}

// A4Landscape suits the wide per-state tables in distribution reports.
var A4Landscape = PageOptions{PaperWidth: 8.27, PaperHeight: 11.7, Margin: 0.4, Landscape: true}

// Client wraps interactions with the Gotenberg API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	page       PageOptions
}

// NewClient constructs a new client.
func NewClient(baseURL string, page PageOptions) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		page: page,
	}
}

// Ping checks if the remote Gotenberg service is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gotenberg returned status %d", resp.StatusCode)
	}
	return nil
}

// RenderHTML converts an HTML document into a PDF. Gotenberg requires the entry
// file to be named index.html.
func (c *Client) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, err
	}
	for name, value := range c.formFields() {
		if err := writer.WriteField(name, value); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forms/chromium/convert/html", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("render failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) formFields() map[string]string {
	fields := map[string]string{"printBackground": "true"}
	if c.page.PaperWidth > 0 && c.page.PaperHeight > 0 {
		fields["paperWidth"] = formatInches(c.page.PaperWidth)
		fields["paperHeight"] = formatInches(c.page.PaperHeight)
	}
	if c.page.Margin > 0 {
		m := formatInches(c.page.Margin)
		fields["marginTop"], fields["marginBottom"], fields["marginLeft"], fields["marginRight"] = m, m, m, m
	}
	if c.page.Landscape {
		fields["landscape"] = "true"
	}
	return fields
}

func formatInches(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
