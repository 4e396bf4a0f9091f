package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amp-labs/workflow-core/http/redact"
	"github.com/amp-labs/workflow-core/logger"
	"github.com/amp-labs/workflow-core/transformer"
)

// API plugin kinds with built-in builders.
const (
	KindAPI           = "api"
	KindWebhook       = "webhook"
	KindTemplateEmail = "template-email"
	KindKYCSession    = "kyc-session"
)

// VendorKinds are the vendor-hosted API kinds. Their URL defaults to
// VendorEndpoints.UnifiedAPIURL joined with the kind.
var VendorKinds = []string{ //nolint:gochecknoglobals
	"individual-sanctions",
	"company-sanctions",
	"ubo",
	"registry-information",
	"merchant-monitoring",
	"bank-account-verification",
	"kyb",
}

const maxResponseBytes = 10 << 20

var ErrHTTPStatus = errors.New("unexpected http status")

// HTTPError is returned for non-2xx responses. Runners report it with a
// distinct notification type.
type HTTPError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: status %d from %s", e.StatusCode, e.URL)
}

func (e *HTTPError) Unwrap() error {
	return ErrHTTPStatus
}

// APIPlugin calls out over HTTP.
type APIPlugin interface {
	Plugin
	Kind() string
	SuccessAction() string
	ErrorAction() string
	PersistResponseDestination() string
	Invoke(ctx context.Context, input map[string]any) Result
}

type shaping struct {
	transformers []transformer.Transformer
	validator    transformer.Validator
}

func newShaping(spec *Shaping) (shaping, error) {
	if spec == nil {
		return shaping{}, nil
	}

	transformers, err := transformer.NewAll(spec.Transformers)
	if err != nil {
		return shaping{}, err
	}

	validator, err := transformer.NewValidator(spec.SchemaValidator)
	if err != nil {
		return shaping{}, err
	}

	return shaping{transformers: transformers, validator: validator}, nil
}

func (s shaping) apply(ctx context.Context, data any) (any, error) {
	out, err := transformer.Apply(ctx, s.transformers, data)
	if err != nil {
		return nil, err
	}

	if s.validator != nil {
		if err := s.validator.Validate(ctx, out); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// HTTPPlugin is the API plugin behind every built-in kind. The request
// payload is the input shaped by the request transformers; the response body
// is decoded as JSON (or kept as text) and shaped by the response
// transformers. URL and header values may contain {secret.NAME} and
// {json.path} placeholders.
type HTTPPlugin struct {
	Base

	kind          string
	url           string
	method        string
	headers       map[string]string
	request       shaping
	response      shaping
	successAction string
	errorAction   string
	persist       string
	client        *http.Client
	secrets       SecretsManager
	fireAndForget bool
	extraPayload  map[string]any
}

// NewHTTPPlugin builds an HTTP plugin from d. Webhook plugins (fireAndForget)
// never return a response body or a success callback.
func NewHTTPPlugin(kind string, d Descriptor, deps Deps, fireAndForget bool) (*HTTPPlugin, error) {
	request, err := newShaping(d.Request)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request: %w", ErrInvalidDescriptor, d.Name, err)
	}

	response, err := newShaping(d.Response)
	if err != nil {
		return nil, fmt.Errorf("%w: %s response: %w", ErrInvalidDescriptor, d.Name, err)
	}

	if d.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidDescriptor, d.Name)
	}

	method := strings.ToUpper(d.Method)
	if method == "" {
		method = http.MethodPost
	}

	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPPlugin{
		Base:          NewBase(d.Name, d.StateNames),
		kind:          kind,
		url:           d.URL,
		method:        method,
		headers:       maps.Clone(d.Headers),
		request:       request,
		response:      response,
		successAction: d.SuccessAction,
		errorAction:   d.ErrorAction,
		persist:       d.PersistResponseDestination,
		client:        client,
		secrets:       deps.Secrets,
		fireAndForget: fireAndForget,
	}, nil
}

func (p *HTTPPlugin) Category() Category {
	return CategoryAPI
}

func (p *HTTPPlugin) Kind() string {
	return p.kind
}

func (p *HTTPPlugin) SuccessAction() string {
	return p.successAction
}

func (p *HTTPPlugin) ErrorAction() string {
	return p.errorAction
}

func (p *HTTPPlugin) PersistResponseDestination() string {
	return p.persist
}

// Invoke performs the request.
func (p *HTTPPlugin) Invoke(ctx context.Context, input map[string]any) Result {
	body, err := p.call(ctx, input)
	if err != nil {
		if p.fireAndForget {
			return Result{Error: wrapInvocation(p, err)}
		}

		return Result{Error: wrapInvocation(p, err), CallbackAction: p.errorAction}
	}

	if p.fireAndForget {
		return Result{}
	}

	return Result{ResponseBody: body, CallbackAction: p.successAction}
}

func (p *HTTPPlugin) call(ctx context.Context, input map[string]any) (any, error) {
	payload, err := p.request.apply(ctx, input)
	if err != nil {
		return nil, err
	}

	if len(p.extraPayload) > 0 {
		fields, ok := payload.(map[string]any)
		if !ok {
			fields = map[string]any{"payload": payload}
		} else {
			fields = maps.Clone(fields)
		}

		maps.Copy(fields, p.extraPayload)
		payload = fields
	}

	resolver := newPlaceholders(p.secrets)

	url, err := resolver.Replace(ctx, p.url, input)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader

	if p.method != http.MethodGet && p.method != http.MethodHead {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}

		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, p.method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")

	for name, template := range p.headers {
		value, err := resolver.Replace(ctx, template, input)
		if err != nil {
			return nil, err
		}

		req.Header.Set(name, value)
	}

	start := time.Now()

	loggableURL := redact.URL(ctx, req.URL, redact.Sensitive)

	resp, err := p.client.Do(req)
	if err != nil {
		httpRequestDuration.WithLabelValues(p.kind, "error").Observe(time.Since(start).Seconds())

		return nil, logger.AnnotateError(err, "method", p.method, "url", loggableURL)
	}

	defer resp.Body.Close()

	httpRequestDuration.WithLabelValues(p.kind, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, logger.AnnotateError(&HTTPError{StatusCode: resp.StatusCode, Body: string(raw), URL: loggableURL},
			"method", p.method, "url", loggableURL, "status", resp.StatusCode)
	}

	logger.Get(ctx).DebugContext(ctx, "api plugin received response",
		"plugin", p.Name(),
		"kind", p.kind,
		"status", resp.StatusCode)

	return p.response.apply(ctx, decodeBody(raw))
}

func decodeBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}

	return decoded
}

// vendorDefaults fills in what vendor kinds leave out of their descriptor.
func vendorDefaults(d Descriptor, baseURL, path, tokenSecret string) Descriptor {
	if d.URL == "" && baseURL != "" {
		d.URL = strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	}

	headers := maps.Clone(d.Headers)
	if headers == nil {
		headers = make(map[string]string)
	}

	if _, ok := headers["Authorization"]; !ok {
		headers["Authorization"] = "Bearer {" + secretPrefix + tokenSecret + "}"
	}

	d.Headers = headers

	return d
}

func buildAPI(d Descriptor, deps Deps) (APIPlugin, error) { //nolint:ireturn
	return NewHTTPPlugin(KindAPI, d, deps, false)
}

func buildWebhook(d Descriptor, deps Deps) (APIPlugin, error) { //nolint:ireturn
	return NewHTTPPlugin(KindWebhook, d, deps, true)
}

func buildTemplateEmail(d Descriptor, deps Deps) (APIPlugin, error) { //nolint:ireturn
	d = vendorDefaults(d, deps.Vendors.EmailAPIURL, "", "EMAIL_API_TOKEN")

	p, err := NewHTTPPlugin(KindTemplateEmail, d, deps, !d.HasCallbackActions())
	if err != nil {
		return nil, err
	}

	p.extraPayload = map[string]any{"template": d.Template}

	return p, nil
}

func buildKYCSession(d Descriptor, deps Deps) (APIPlugin, error) { //nolint:ireturn
	d = vendorDefaults(d, deps.Vendors.UnifiedAPIURL, "individual-verification-sessions", "UNIFIED_API_TOKEN")

	p, err := NewHTTPPlugin(KindKYCSession, d, deps, false)
	if err != nil {
		return nil, err
	}

	if d.Vendor != "" {
		p.extraPayload = map[string]any{"vendor": d.Vendor}
	}

	return p, nil
}

func vendorBuilder(kind string) APIBuilder {
	return func(d Descriptor, deps Deps) (APIPlugin, error) {
		d = vendorDefaults(d, deps.Vendors.UnifiedAPIURL, kind, "UNIFIED_API_TOKEN")

		p, err := NewHTTPPlugin(kind, d, deps, false)
		if err != nil {
			return nil, err
		}

		if d.Vendor != "" {
			p.extraPayload = map[string]any{"vendor": d.Vendor}
		}

		return p, nil
	}
}
