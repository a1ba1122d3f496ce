// Package sora talks to the OpenAI video generation API.
package sora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"continuity/internal/domain"
	"continuity/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("sora: OPENAI_API_KEY is not set")

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "sora-2"
)

// Options configures the video client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the /videos endpoints.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// CreateRequest is one video creation call.
type CreateRequest struct {
	Prompt    string
	Size      domain.Size
	Seconds   string
	Reference domain.Reference
}

// Video is the job object returned by create and retrieve calls.
type Video struct {
	ID       string           `json:"id"`
	Object   string           `json:"object,omitempty"`
	Model    string           `json:"model,omitempty"`
	Status   domain.JobStatus `json:"status"`
	Progress int              `json:"progress,omitempty"`
	Size     string           `json:"size,omitempty"`
	Seconds  string           `json:"seconds,omitempty"`
	Error    *VideoError      `json:"error,omitempty"`

	// Raw is the undecoded response body.
	Raw json.RawMessage `json:"-"`
}

type VideoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type createPayload struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size"`
	Seconds        string `json:"seconds"`
	InputReference string `json:"input_reference,omitempty"`
}

// NewClient constructs a client with defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit creates a video job. A binary reference is sent as multipart form
// data; otherwise the body is JSON and a URL reference travels as a string.
func (c *Client) Submit(ctx context.Context, req CreateRequest) (*Video, error) {
	if !c.HasCredentials() {
		return nil, MissingKeyError(domain.StageSubmit)
	}

	var (
		body        io.Reader
		contentType string
	)
	if req.Reference.Kind == domain.ReferenceBytes {
		buf, ct, err := c.multipartBody(req)
		if err != nil {
			return nil, domain.Internal(domain.StageSubmit, "encode multipart request", err)
		}
		body, contentType = buf, ct
	} else {
		payload := createPayload{
			Model:   c.model,
			Prompt:  req.Prompt,
			Size:    string(req.Size),
			Seconds: req.Seconds,
		}
		if req.Reference.Kind == domain.ReferenceURL {
			payload.InputReference = req.Reference.URL
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, domain.Internal(domain.StageSubmit, "encode request", err)
		}
		body, contentType = bytes.NewReader(raw), "application/json"
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/videos", body)
	if err != nil {
		return nil, domain.Internal(domain.StageSubmit, "build request", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	video, err := c.doJSON(httpReq, domain.StageSubmit)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("job_id", video.ID).
		Str("status", string(video.Status)).
		Str("model", c.model).
		Bool("multipart", req.Reference.Kind == domain.ReferenceBytes).
		Msg("sora: video submitted")
	return video, nil
}

// FetchStatus retrieves the current job object.
func (c *Client) FetchStatus(ctx context.Context, videoID string) (*Video, error) {
	if !c.HasCredentials() {
		return nil, MissingKeyError(domain.StagePoll)
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, c.videoURL(videoID), nil)
	if err != nil {
		return nil, domain.Internal(domain.StagePoll, "build request", err)
	}
	return c.doJSON(httpReq, domain.StagePoll)
}

// FetchContentTo streams the rendered video into w and returns the byte count.
// A body shorter than the advertised Content-Length is an upstream failure.
func (c *Client) FetchContentTo(ctx context.Context, videoID string, w io.Writer) (int64, error) {
	if !c.HasCredentials() {
		return 0, MissingKeyError(domain.StageDownload)
	}
	httpReq, err := c.newRequest(ctx, http.MethodGet, c.videoURL(videoID)+"/content", nil)
	if err != nil {
		return 0, domain.Internal(domain.StageDownload, "build request", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, domain.UpstreamTransport(domain.StageDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return 0, domain.Upstream(domain.StageDownload, resp.StatusCode, raw)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, domain.UpstreamTransport(domain.StageDownload, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, domain.UpstreamTransport(domain.StageDownload,
			fmt.Errorf("truncated content: got %d of %d bytes", n, resp.ContentLength))
	}
	return n, nil
}

// FetchContent buffers the rendered video in memory.
func (c *Client) FetchContent(ctx context.Context, videoID string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.FetchContentTo(ctx, videoID, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Client) multipartBody(req CreateRequest) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fields := [][2]string{
		{"model", c.model},
		{"prompt", req.Prompt},
		{"size", string(req.Size)},
		{"seconds", req.Seconds},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="input_reference"; filename=%q`, req.Reference.Filename))
	header.Set("Content-Type", req.Reference.ContentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Reference.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

func (c *Client) doJSON(req *http.Request, stage domain.Stage) (*Video, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.UpstreamTransport(stage, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.UpstreamTransport(stage, err)
	}
	if resp.StatusCode >= 300 {
		return nil, domain.Upstream(stage, resp.StatusCode, raw)
	}

	var video Video
	if err := json.Unmarshal(raw, &video); err != nil {
		return nil, domain.Internal(stage, "decode response", err)
	}
	if video.ID == "" {
		return nil, domain.Internal(stage, "response carries no video id", nil)
	}
	video.Raw = json.RawMessage(raw)
	return &video, nil
}

func (c *Client) videoURL(videoID string) string {
	return c.baseURL + "/videos/" + url.PathEscape(videoID)
}

// MissingKeyError is the configuration error returned before any request
// when no API key is configured.
func MissingKeyError(stage domain.Stage) error {
	e := domain.Configuration("missing credentials")
	e.Stage = stage
	e.Err = ErrMissingAPIKey
	return e
}
