package imagen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrMissingAPIKey indicates that the client was configured without credentials.
	ErrMissingAPIKey = errors.New("imagen: api key is required")
	// ErrInvalidResponse is returned when a provider response fails validation.
	ErrInvalidResponse = errors.New("imagen: invalid provider response")
)

// Options configures the generation provider client.
type Options struct {
	BaseURL        string
	APIKey         string
	GenerateModel  string
	EditModel      string
	RemoveModel    string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

type Client struct {
	baseURL       string
	apiKey        string
	generateModel string
	editModel     string
	removeModel   string
	httpClient    *http.Client
}

type UploadLinkRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type UploadLinkResponse struct {
	UploadURL string `json:"upload_url"`
	FileURL   string `json:"file_url"`
}

// GenerateRequest asks the provider to restyle a staged photo.
type GenerateRequest struct {
	ImageURL  string
	Prompt    string
	NumImages int
}

// InstructEditRequest adds or changes content following a text instruction only.
type InstructEditRequest struct {
	ImageURL string
	Prompt   string
}

// MaskEditRequest edits the region marked in MaskURL.
type MaskEditRequest struct {
	ImageURL string
	MaskURL  string
	Prompt   string
}

// Result is the validated outcome of one provider operation.
// Images may be empty: the call succeeded but produced nothing.
type Result struct {
	Model     string
	RequestID string
	Images    []ResultImage
}

type ResultImage struct {
	URL         string
	ContentType string
	Width       int
	Height      int
}

// Blob is a downloaded file and its declared content type.
type Blob struct {
	Data        []byte
	ContentType string
}

type predictionRequest struct {
	ImageURL  string `json:"image_url"`
	MaskURL   string `json:"mask_url,omitempty"`
	Prompt    string `json:"prompt"`
	NumImages int    `json:"num_images,omitempty"`
}

type predictionResponse struct {
	RequestID string `json:"request_id"`
	Images    []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
	} `json:"images"`
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:       strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:        strings.TrimSpace(opts.APIKey),
		generateModel: opts.GenerateModel,
		editModel:     opts.EditModel,
		removeModel:   opts.RemoveModel,
		httpClient:    httpClient,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Stage copies a blob into the provider's own storage and returns the reference
// the provider accepts as input.
func (c *Client) Stage(ctx context.Context, data []byte, contentType, fileName string) (string, error) {
	link, err := c.GetUploadLink(ctx, fileName, contentType)
	if err != nil {
		return "", err
	}

	err = c.RetryWithBackoff(ctx, func() error {
		return c.UploadFile(ctx, link.UploadURL, data, contentType)
	}, 3)
	if err != nil {
		return "", err
	}

	return link.FileURL, nil
}

func (c *Client) GetUploadLink(ctx context.Context, fileName, contentType string) (*UploadLinkResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}

	jsonData, err := json.Marshal(UploadLinkRequest{FileName: fileName, ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to get upload link: status %d, body: %s", resp.StatusCode, string(body))
	}

	var result UploadLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.UploadURL == "" || result.FileURL == "" {
		return nil, fmt.Errorf("%w: upload link response is missing upload_url or file_url", ErrInvalidResponse)
	}

	return &result, nil
}

func (c *Client) UploadFile(ctx context.Context, uploadLink string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadLink, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to upload file: status %d, body: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Generate restyles the staged photo. It blocks until the provider finishes.
func (c *Client) Generate(ctx context.Context, in GenerateRequest) (*Result, error) {
	numImages := in.NumImages
	if numImages <= 0 {
		numImages = 1
	}
	return c.predict(ctx, c.generateModel, predictionRequest{
		ImageURL:  in.ImageURL,
		Prompt:    in.Prompt,
		NumImages: numImages,
	})
}

// EditWithInstruction applies a text-only edit to the staged photo.
func (c *Client) EditWithInstruction(ctx context.Context, in InstructEditRequest) (*Result, error) {
	return c.predict(ctx, c.editModel, predictionRequest{
		ImageURL: in.ImageURL,
		Prompt:   in.Prompt,
	})
}

// RemoveWithMask edits only the region marked by the staged mask.
func (c *Client) RemoveWithMask(ctx context.Context, in MaskEditRequest) (*Result, error) {
	if in.MaskURL == "" {
		return nil, errors.New("imagen: mask url is required")
	}
	return c.predict(ctx, c.removeModel, predictionRequest{
		ImageURL: in.ImageURL,
		MaskURL:  in.MaskURL,
		Prompt:   in.Prompt,
	})
}

func (c *Client) predict(ctx context.Context, model string, body predictionRequest) (*Result, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	if strings.TrimSpace(body.Prompt) == "" {
		return nil, errors.New("imagen: prompt is required")
	}
	if body.ImageURL == "" {
		return nil, errors.New("imagen: image url is required")
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + "/models/" + url.PathEscape(model) + "/predictions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to run %s: status %d, body: %s", model, resp.StatusCode, string(respBody))
	}

	var raw predictionResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v, body: %s", ErrInvalidResponse, err, string(respBody))
	}

	result := &Result{
		Model:     model,
		RequestID: raw.RequestID,
		Images:    make([]ResultImage, 0, len(raw.Images)),
	}
	for i, img := range raw.Images {
		parsed, err := url.Parse(img.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return nil, fmt.Errorf("%w: image %d has invalid url %q", ErrInvalidResponse, i, img.URL)
		}
		result.Images = append(result.Images, ResultImage{
			URL:         img.URL,
			ContentType: img.ContentType,
			Width:       img.Width,
			Height:      img.Height,
		})
	}

	return result, nil
}

// DownloadFile fetches a blob over HTTP. Any non-200 status is an error.
func (c *Client) DownloadFile(ctx context.Context, downloadURL string) (*Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("failed to download file: status %d, body: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Blob{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// RetryWithBackoff executes a function with exponential backoff retry logic.
func (c *Client) RetryWithBackoff(ctx context.Context, fn func() error, maxRetries int) error {
	backoffs := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if i == maxRetries-1 {
			break
		}
		wait := backoffs[len(backoffs)-1]
		if i < len(backoffs) {
			wait = backoffs[i]
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}
