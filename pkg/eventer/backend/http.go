package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"
)

// Endpoint describes one backend operation: the path POSTed to under the
// base URL and a jq expression selecting the result from the JSON response.
type Endpoint struct {
	Path   string
	Result string
}

// HTTPConfig configures an HTTP backend. Zero-valued endpoints fall back to
// the defaults below.
type HTTPConfig struct {
	BaseURL        string
	Timeout        time.Duration
	Client         *http.Client
	Logger         *zap.Logger
	Validate       Endpoint
	StoredQuery    Endpoint
	NotifyMessages Endpoint
	FireEvent      Endpoint
}

const DefaultHTTPTimeout = 10 * time.Second

var (
	DefaultValidateEndpoint       = Endpoint{Path: "/guest/validate", Result: ".principal"}
	DefaultStoredQueryEndpoint    = Endpoint{Path: "/query/run", Result: ".result"}
	DefaultNotifyMessagesEndpoint = Endpoint{Path: "/message/notify", Result: ".result"}
	DefaultFireEventEndpoint      = Endpoint{Path: "/event/fire", Result: "."}
)

type compiledEndpoint struct {
	url    string
	result *gojq.Code
}

// HTTP talks JSON to the backend service.
type HTTP struct {
	client *http.Client
	logger *zap.Logger

	validate compiledEndpoint
	query    compiledEndpoint
	notify   compiledEndpoint
	fire     compiledEndpoint
}

// NewHTTP compiles the endpoint result expressions. It returns an error for
// a missing base URL or an invalid jq expression.
func NewHTTP(config HTTPConfig) (*HTTP, error) {
	base := strings.TrimRight(config.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("backend: base URL is required")
	}

	client := config.Client
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &HTTP{client: client, logger: logger}

	var err error
	if h.validate, err = compileEndpoint(base, config.Validate, DefaultValidateEndpoint); err != nil {
		return nil, err
	}
	if h.query, err = compileEndpoint(base, config.StoredQuery, DefaultStoredQueryEndpoint); err != nil {
		return nil, err
	}
	if h.notify, err = compileEndpoint(base, config.NotifyMessages, DefaultNotifyMessagesEndpoint); err != nil {
		return nil, err
	}
	if h.fire, err = compileEndpoint(base, config.FireEvent, DefaultFireEventEndpoint); err != nil {
		return nil, err
	}

	return h, nil
}

func compileEndpoint(base string, ep, def Endpoint) (compiledEndpoint, error) {
	if ep.Path == "" {
		ep.Path = def.Path
	}
	if ep.Result == "" {
		ep.Result = def.Result
	}

	query, err := gojq.Parse(ep.Result)
	if err != nil {
		return compiledEndpoint{}, fmt.Errorf("backend: invalid result expression %q for %s: %w", ep.Result, ep.Path, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return compiledEndpoint{}, fmt.Errorf("backend: failed to compile result expression %q for %s: %w", ep.Result, ep.Path, err)
	}

	return compiledEndpoint{
		url:    base + "/" + strings.TrimLeft(ep.Path, "/"),
		result: code,
	}, nil
}

// ValidateCredential fails with ErrCredential when a successful response
// carries no principal.
func (h *HTTP) ValidateCredential(ctx context.Context, cred string) (string, error) {
	principal, err := h.call(ctx, h.validate, map[string]any{"credential": cred}, true)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(principal) == "" {
		return "", fmt.Errorf("%w: response carried no principal", ErrCredential)
	}
	return principal, nil
}

func (h *HTTP) RunStoredQuery(ctx context.Context, cred, query string, params map[string]string) (string, error) {
	return h.call(ctx, h.query, map[string]any{
		"credential": cred,
		"query":      query,
		"params":     params,
	}, false)
}

func (h *HTTP) GetNotifyMessages(ctx context.Context, cred string) (string, error) {
	return h.call(ctx, h.notify, map[string]any{"credential": cred}, false)
}

func (h *HTTP) FireEvent(ctx context.Context, payload string) error {
	_, err := h.call(ctx, h.fire, map[string]any{"payload": payload}, false)
	return err
}

func (h *HTTP) call(ctx context.Context, ep compiledEndpoint, body map[string]any, authCall bool) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("%w: encoding request: %w", ErrBackend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %w", ErrBackend, err)
	}

	h.logger.Debug("Backend call completed",
		zap.String("url", ep.url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	switch {
	case authCall && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden):
		return "", fmt.Errorf("%w: status %d", ErrCredential, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return "", nil
	}

	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrBackend, err)
	}

	return extract(ctx, ep.result, decoded)
}

// extract runs the result expression and renders its first output as text.
// Strings are returned as-is, everything else as compact JSON.
func extract(ctx context.Context, code *gojq.Code, input any) (string, error) {
	iter := code.RunWithContext(ctx, input)
	v, ok := iter.Next()
	if !ok {
		return "", fmt.Errorf("%w: result expression produced no value", ErrBackend)
	}
	if err, isErr := v.(error); isErr {
		return "", fmt.Errorf("%w: result expression: %w", ErrBackend, err)
	}

	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("%w: encoding result: %w", ErrBackend, err)
		}
		return string(data), nil
	}
}
