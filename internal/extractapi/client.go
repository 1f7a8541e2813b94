package extractapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// uploadPath is the extraction endpoint, appended to the configured base URL.
const uploadPath = "/api/v1/spreadsheet/extract/upload"

// defaultTimeout bounds both the connect and body phases of one request.
const defaultTimeout = 120 * time.Second

// Environment variables carrying the static auth headers.
const (
	EnvAccessKey     = "ENTELLIEXTRACT_ACCESS_KEY"
	EnvSecretMessage = "ENTELLIEXTRACT_SECRET_MESSAGE"
	EnvSignature     = "ENTELLIEXTRACT_SIGNATURE"
	EnvUseMock       = "ENTELLIEXTRACT_USE_MOCK"
)

// Credentials are the three static auth headers the API expects.
type Credentials struct {
	AccessKey     string
	SecretMessage string
	Signature     string
}

// CredentialsFromEnv reads the auth headers from the process environment.
func CredentialsFromEnv() Credentials {
	return Credentials{
		AccessKey:     os.Getenv(EnvAccessKey),
		SecretMessage: os.Getenv(EnvSecretMessage),
		Signature:     os.Getenv(EnvSignature),
	}
}

// Result is the tagged outcome of one extraction call. Failures are data:
// the engine records them as checkpoints rather than propagating them.
type Result struct {
	Success      bool
	StatusCode   int
	LatencyMS    int64
	PatternKey   string
	ErrorMessage string
	FullResponse string
	NetworkAbort bool
}

// Extractor is the capability the extraction engine consumes. Satisfied
// by Client and by the mock used in tests and ENTELLIEXTRACT_USE_MOCK runs.
type Extractor interface {
	Extract(ctx context.Context, filePath, brand, purchaser string) (*Result, error)
}

// Client posts spreadsheet files to the extraction API as multipart
// form-data with static auth headers.
type Client struct {
	baseURL string
	http    *http.Client
	creds   Credentials
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Client for the given base URL. A timeout of 0 uses the
// default. The http.Client carries no timeout of its own; the per-request
// context enforces the deadline across connect and body phases.
func New(baseURL string, creds Credentials, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		creds:   creds,
		timeout: timeout,
		logger:  logger,
	}
}

// mimeForExtension maps spreadsheet extensions to MIME types.
func mimeForExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// Extract posts one file to the API. All extraction failures — unreadable
// file, non-2xx response, timeout, network abort — are reported inside
// the Result; the error return is reserved for context cancellation.
func (c *Client) Extract(ctx context.Context, filePath, brand, purchaser string) (*Result, error) {
	start := time.Now()

	body, contentType, err := buildUploadBody(filePath)
	if err != nil {
		// Recorded with the "read file:" prefix so the failure breakdown
		// can classify it as a read error.
		return &Result{
			Success:      false,
			StatusCode:   0,
			LatencyMS:    time.Since(start).Milliseconds(),
			ErrorMessage: fmt.Sprintf("read file: %v", err),
		}, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+uploadPath, body)
	if err != nil {
		return nil, fmt.Errorf("extractapi: building request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Access-Key", c.creds.AccessKey)
	req.Header.Set("X-Secret-Message", c.creds.SecretMessage)
	req.Header.Set("X-Signature", c.creds.Signature)

	c.logger.Debug("extraction request",
		slog.String("file", filepath.Base(filePath)),
		slog.String("brand", brand),
		slog.String("purchaser", purchaser),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return c.transportFailure(start, err), nil
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	latency := time.Since(start).Milliseconds()

	if readErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return c.transportFailure(start, readErr), nil
	}

	result := &Result{
		StatusCode:   resp.StatusCode,
		LatencyMS:    latency,
		FullResponse: string(respBody),
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		result.Success = true
		result.PatternKey = patternKeyFromBody(respBody)

		return result, nil
	}

	httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: truncateBody(respBody)}
	result.ErrorMessage = httpErr.Error()

	c.logger.Warn("extraction failed",
		slog.String("file", filepath.Base(filePath)),
		slog.Int("status", resp.StatusCode),
	)

	return result, nil
}

// transportFailure builds a Result for a request that never produced a
// response, classifying network aborts.
func (c *Client) transportFailure(start time.Time, err error) *Result {
	classified := classifyTransportError(err)

	result := &Result{
		Success:      false,
		StatusCode:   0,
		LatencyMS:    time.Since(start).Milliseconds(),
		ErrorMessage: classified.Error(),
		NetworkAbort: IsNetworkAbort(classified),
	}

	if result.NetworkAbort {
		c.logger.Error("extraction API unreachable", slog.String("error", err.Error()))
	}

	return result
}

// buildUploadBody assembles the multipart form: the file part with an
// extension-derived MIME type plus empty pattern_key and request_metadata
// parts. The whole file is buffered; spreadsheets are small enough.
func buildUploadBody(filePath string) (*bytes.Buffer, string, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", err
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filePath)))
	header.Set("Content-Type", mimeForExtension(filePath))

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}

	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}

	if err := w.WriteField("pattern_key", ""); err != nil {
		return nil, "", fmt.Errorf("write pattern_key field: %w", err)
	}

	if err := w.WriteField("request_metadata", ""); err != nil {
		return nil, "", fmt.Errorf("write request_metadata field: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return buf, w.FormDataContentType(), nil
}

// patternKeyFromBody pulls the matched template identifier out of a
// successful response. Missing or malformed bodies yield "".
func patternKeyFromBody(body []byte) string {
	var payload struct {
		PatternKey string `json:"pattern_key"`
		Data       struct {
			PatternKey string `json:"pattern_key"`
		} `json:"data"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	if payload.PatternKey != "" {
		return payload.PatternKey
	}

	return payload.Data.PatternKey
}

// maxErrorBodyLen caps error bodies persisted into checkpoints.
const maxErrorBodyLen = 512

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodyLen {
		return s[:maxErrorBodyLen] + "..."
	}

	return s
}
