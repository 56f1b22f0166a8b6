package verify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"firealert/backend/imaging"
	"firealert/backend/llm"

	"github.com/apex/log"
)

const maxImageBytes = 10 << 20

// Result is the outcome of one verification.
type Result struct {
	IsFire               bool     `json:"is_fire"`
	Score                float64  `json:"score"`
	Rationale            string   `json:"rationale"`
	Sensitive            bool     `json:"sensitive"`
	SensitiveRationale   string   `json:"sensitive_rationale"`
	FireIndicators       []string `json:"fire_indicators,omitempty"`
	FalsePositiveReasons []string `json:"false_positive_reasons,omitempty"`
	Source               string   `json:"source,omitempty"`
	// Failed marks a conservative default produced without a usable answer.
	Failed bool `json:"failed,omitempty"`
}

// Verifier classifies the image behind a reference.
type Verifier interface {
	Verify(ctx context.Context, imageRef string) (*Result, error)
}

type Config struct {
	Enabled bool
	// FailOpen makes fetch and provider failures count as fire.
	FailOpen     bool
	FetchTimeout time.Duration
	// MaxImageDimension bounds the snapshot sent to the provider.
	MaxImageDimension int
}

// Client verifies images with a vision model. It never returns an error:
// every failure resolves to a default Result.
type Client struct {
	cfg      Config
	provider llm.Client
	http     *http.Client
}

func NewClient(cfg Config, provider llm.Client) *Client {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	return &Client{
		cfg:      cfg,
		provider: provider,
		http:     &http.Client{Timeout: cfg.FetchTimeout},
	}
}

// Enabled reports whether the client calls a provider.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled && c.provider != nil
}

func (c *Client) Verify(ctx context.Context, imageRef string) (res *Result, err error) {
	if !c.Enabled() {
		log.Debugf("Verification disabled, approving %s", imageRef)
		return disabledResult(), nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Verification of %s panicked: %v", imageRef, r)
			res, err = c.failure(fmt.Errorf("panic: %v", r)), nil
		}
	}()

	data, mimeType, ferr := c.fetchImage(ctx, imageRef)
	if ferr != nil {
		log.Errorf("Failed to fetch image %s: %v", imageRef, ferr)
		return c.failure(fmt.Errorf("failed to fetch image for verification: %w", ferr)), nil
	}

	data, mimeType = c.shrink(imageRef, data, mimeType)

	text, perr := c.provider.AnalyzeImage(ctx, data, mimeType, firePrompt)
	if perr != nil {
		log.Errorf("%s verification failed for %s: %v", c.provider.SourceName(), imageRef, perr)
		return c.failure(fmt.Errorf("%s verification failed: %w", c.provider.SourceName(), perr)), nil
	}

	res = ParseResponse(text)
	res.Source = c.provider.SourceName()
	return res, nil
}

func (c *Client) fetchImage(ctx context.Context, imageRef string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageRef, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", err
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return data, mimeType, nil
}

// shrink downscales large snapshots. Bytes that cannot be decoded are sent
// as fetched and left to the provider.
func (c *Client) shrink(imageRef string, data []byte, mimeType string) ([]byte, string) {
	out, outType, err := imaging.Downscale(data, mimeType, c.cfg.MaxImageDimension)
	if err != nil {
		log.Debugf("Sending %s unscaled: %v", imageRef, err)
		return data, mimeType
	}
	return out, outType
}

func (c *Client) failure(err error) *Result {
	return FailureResult(err, c.cfg.FailOpen)
}

// FailureResult is the default returned when no verdict could be obtained.
func FailureResult(err error, failOpen bool) *Result {
	res := &Result{
		Rationale:          err.Error(),
		SensitiveRationale: "Could not verify - error occurred",
		Failed:             true,
	}
	if failOpen {
		res.IsFire = true
		res.Score = 0.5
	}
	return res
}

func disabledResult() *Result {
	return &Result{
		IsFire:             true,
		Score:              0.95,
		Rationale:          "Verification disabled - defaulting to fire detected",
		SensitiveRationale: "Skipped - verification disabled",
		Source:             "disabled",
	}
}
