package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/cloudflare-go/v4"
	"github.com/cloudflare/cloudflare-go/v4/ai"
	"github.com/cloudflare/cloudflare-go/v4/option"
)

const (
	DefaultBaseURL = "https://api.cloudflare.com/client/v4"
	DefaultModel   = "@cf/black-forest-labs/flux-2-dev"

	defaultTimeout = 60 * time.Second
)

var (
	ErrNotConfigured = errors.New("inference client is not configured")
	ErrTimeout       = errors.New("inference timeout")
	ErrNetwork       = errors.New("inference network error")
	ErrUpstream      = errors.New("inference upstream error")
	ErrNoImage       = errors.New("no image was generated")
)

// Request describes one text-to-image run
type Request struct {
	Prompt string
	Steps  int
	Seed   int64
	Width  int
	Height int
}

// Client calls Cloudflare Workers AI through the Cloudflare SDK
type Client struct {
	accountID string
	token     string
	model     string
	cf        *cloudflare.Client
}

// NewClient creates a Workers AI client. An empty baseURL uses the public API.
func NewClient(baseURL, accountID, token, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		accountID: accountID,
		token:     token,
		model:     model,
		cf: cloudflare.NewClient(
			option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"),
			option.WithAPIToken(token),
			option.WithHTTPClient(&http.Client{Timeout: timeout, Transport: transport}),
			option.WithRequestTimeout(timeout),
			// credits are held per attempt by the caller
			option.WithMaxRetries(0),
		),
	}
}

// Configured reports whether credentials are present
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.accountID) != "" && strings.TrimSpace(c.token) != ""
}

type runResponse struct {
	Result struct {
		Image string `json:"image"`
	} `json:"result"`
	Success bool `json:"success"`
}

// GenerateImage runs the model and returns the base64 encoded PNG.
// Flux models only accept multipart input, so the form replaces the
// JSON body the SDK would send and the envelope is decoded here.
func (c *Client) GenerateImage(ctx context.Context, r Request) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := [][2]string{
		{"prompt", r.Prompt},
		{"steps", strconv.Itoa(r.Steps)},
		{"seed", strconv.FormatInt(r.Seed, 10)},
		{"width", strconv.Itoa(r.Width)},
		{"height", strconv.Itoa(r.Height)},
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("inference request error: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("inference request error: %w", err)
	}

	var out runResponse
	_, err := c.cf.AI.Run(ctx, c.model, ai.AIRunParams{
		AccountID: cloudflare.F(c.accountID),
		Body: ai.AIRunParamsBodyTextToImage{
			Prompt: cloudflare.F(r.Prompt),
		},
	},
		option.WithRequestBody(form.FormDataContentType(), &body),
		option.WithResponseBodyInto(&out),
	)
	if err != nil {
		return "", classifyRequestError(ctx, err)
	}
	if out.Result.Image == "" {
		return "", ErrNoImage
	}
	return out.Result.Image, nil
}

// DecodeImage turns the base64 payload into raw bytes
func DecodeImage(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

func classifyRequestError(ctx context.Context, err error) error {
	var apiErr *cloudflare.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status=%d body=%s", ErrUpstream, apiErr.StatusCode, apiErr.Error())
	}
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return fmt.Errorf("inference request error: %w", err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
