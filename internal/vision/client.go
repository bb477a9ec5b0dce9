// Package vision talks to the external damage-classification service.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"citysnap-backend/internal/apperrors"
	"citysnap-backend/internal/media"
)

const (
	primaryField  = "image"
	fallbackField = "file"

	// Bodies logged or embedded in errors are cut to this many bytes.
	maxBodyExcerpt = 512
)

var (
	ErrTimeout           = errors.New("vision service timed out")
	ErrNetwork           = errors.New("vision service unreachable")
	ErrMalformedResponse = errors.New("malformed vision response")
	ErrImageNotFound     = errors.New("image not found")
)

// StatusError is a non-2xx answer from the vision service or an artifact host.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d, body: %s", e.StatusCode, e.Body)
}

// Prediction is either Detected or NotDetected.
type Prediction interface {
	isPrediction()
}

// Detected means the model found a damaged fixture and labelled it.
type Detected struct {
	Label   string
	MaskURL string
	Score   float64
}

// NotDetected means nothing was found; the service captioned the image instead.
type NotDetected struct {
	CaptionEN string
	CaptionKO string
}

func (Detected) isPrediction()    {}
func (NotDetected) isPrediction() {}

// predictResponse keeps status and score raw: deployed services send them as
// strings or numbers, and only "not_detected" changes the outcome.
type predictResponse struct {
	Status    json.RawMessage `json:"status"`
	LabelKO   string          `json:"label_ko"`
	MaskURL   string          `json:"mask_url"`
	Score     json.RawMessage `json:"score"`
	CaptionEN string          `json:"caption_en"`
	CaptionKO string          `json:"caption_ko"`
}

func (r predictResponse) notDetected() bool {
	var status string
	if err := json.Unmarshal(r.Status, &status); err != nil {
		return false
	}
	return status == "not_detected"
}

// score accepts a JSON number or a numeric string; anything else is 0.
func (r predictResponse) score() float64 {
	raw := bytes.TrimSpace(r.Score)
	if len(raw) == 0 {
		return 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = []byte(strings.TrimSpace(s))
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

type ClientConfig struct {
	BaseURL        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaskTimeout    time.Duration

	// HTTPClient overrides the transport built from the timeouts.
	HTTPClient *http.Client
}

type Client struct {
	baseURL        string
	httpClient     *http.Client
	artifactClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	artifactClient := cfg.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ReadTimeout,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		}
		httpClient = &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		}
		artifactClient = &http.Client{
			Transport: transport,
			Timeout:   cfg.MaskTimeout,
		}
	}

	return &Client{
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:     httpClient,
		artifactClient: artifactClient,
	}
}

// Predict sends the image behind locator to POST {base}/predict and decodes the result.
// locator is an http(s) URL or a local file path.
func (c *Client) Predict(ctx context.Context, locator, displayName string) (Prediction, error) {
	img, err := c.loadImage(ctx, locator)
	if err != nil {
		return nil, err
	}

	status, body, err := c.postPredict(ctx, primaryField, img, displayName)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnprocessableEntity {
		log.Printf("[vision] predict rejected field %q (422): %s; retrying with %q",
			primaryField, excerpt(body), fallbackField)
		status, body, err = c.postPredict(ctx, fallbackField, img, displayName)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status > 299 {
		return nil, apperrors.Gateway("predict", &StatusError{StatusCode: status, Body: excerpt(body)})
	}

	return decodePrediction(body)
}

// FetchArtifact downloads a derived artifact such as a mask image.
func (c *Client) FetchArtifact(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Gateway("fetch artifact", fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := c.artifactClient.Do(req)
	if err != nil {
		return nil, apperrors.Gateway("fetch artifact", transportError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Gateway("fetch artifact", transportError(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.Gateway("fetch artifact", &StatusError{StatusCode: resp.StatusCode, Body: excerpt(data)})
	}
	return data, nil
}

type image struct {
	filename    string
	contentType string
	data        []byte
}

func (c *Client) loadImage(ctx context.Context, locator string) (*image, error) {
	if strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://") {
		return c.downloadImage(ctx, locator)
	}

	data, err := os.ReadFile(locator)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "load image", "%w: %s", ErrImageNotFound, locator)
	}
	if err != nil {
		return nil, apperrors.Storage("load image", fmt.Errorf("failed to read %s: %w", locator, err))
	}

	name := filepath.Base(locator)
	return &image{filename: name, contentType: contentTypeFromName(name), data: data}, nil
}

func (c *Client) downloadImage(ctx context.Context, url string) (*image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Gateway("download image", fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Gateway("download image", transportError(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Gateway("download image", transportError(err))
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.Newf(apperrors.KindNotFound, "download image", "%w: %s", ErrImageNotFound, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.Gateway("download image", &StatusError{StatusCode: resp.StatusCode, Body: excerpt(data)})
	}

	name := media.BaseName(url)
	if name == "" {
		name = "image"
	}
	contentType := ""
	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
		contentType = mediaType
	}
	if contentType == "" {
		contentType = contentTypeFromName(name)
	}

	return &image{filename: name, contentType: contentType, data: data}, nil
}

func (c *Client) postPredict(ctx context.Context, field string, img *image, displayName string) (int, []byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		field, escapeQuotes(img.filename)))
	h.Set("Content-Type", img.contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return 0, nil, apperrors.Gateway("predict", fmt.Errorf("failed to create form file: %w", err))
	}
	if _, err := part.Write(img.data); err != nil {
		return 0, nil, apperrors.Gateway("predict", fmt.Errorf("failed to write form file: %w", err))
	}
	if err := w.WriteField("name", displayName); err != nil {
		return 0, nil, apperrors.Gateway("predict", fmt.Errorf("failed to write form field: %w", err))
	}
	if err := w.Close(); err != nil {
		return 0, nil, apperrors.Gateway("predict", fmt.Errorf("failed to close multipart body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", &buf)
	if err != nil {
		return 0, nil, apperrors.Gateway("predict", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, apperrors.Gateway("predict", transportError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apperrors.Gateway("predict", transportError(err))
	}
	return resp.StatusCode, body, nil
}

func decodePrediction(body []byte) (Prediction, error) {
	var result predictResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperrors.Newf(apperrors.KindGateway, "predict", "%w: %v, body: %s", ErrMalformedResponse, err, excerpt(body))
	}

	if result.notDetected() {
		return NotDetected{CaptionEN: result.CaptionEN, CaptionKO: result.CaptionKO}, nil
	}
	if strings.TrimSpace(result.LabelKO) == "" {
		return nil, apperrors.Newf(apperrors.KindGateway, "predict", "%w: missing label_ko, body: %s", ErrMalformedResponse, excerpt(body))
	}
	return Detected{Label: result.LabelKO, MaskURL: result.MaskURL, Score: result.score()}, nil
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func contentTypeFromName(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
		return ct
	}
	return "application/octet-stream"
}

func excerpt(body []byte) string {
	if len(body) > maxBodyExcerpt {
		return string(body[:maxBodyExcerpt]) + "..."
	}
	return string(body)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
