package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/amp-labs/workflow-core/transformer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func jmes(expr string) transformer.Spec {
	return transformer.Spec{Transformer: transformer.KindJMESPath, Mapping: expr}
}

func readJSON(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	raw, err := io.ReadAll(r.Body)
	if !assert.NoError(t, err) {
		return nil
	}

	var body map[string]any
	assert.NoError(t, json.Unmarshal(raw, &body))

	return body
}

func buildOne(t *testing.T, d Descriptor, deps Deps) APIPlugin { //nolint:ireturn
	t.Helper()

	set, err := NewRegistry().Build(context.Background(), Extensions{APIPlugins: []Descriptor{d}}, deps)
	require.NoError(t, err)
	require.Len(t, set.API, 1)

	return set.API[0]
}

func TestHTTPPluginRoundTrip(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/customers/e-1", r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, map[string]any{"name": "Acme"}, readJSON(t, r))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score": 42, "internal": true}`))
	}))
	defer srv.Close()

	p := buildOne(t, Descriptor{
		Name:          "scorer",
		StateNames:    []string{"review"},
		URL:           srv.URL + "/customers/{entity.id}",
		Headers:       map[string]string{"Authorization": "Bearer {secret.API_TOKEN}"},
		Request:       &Shaping{Transformers: []transformer.Spec{jmes("{name: entity.name}")}},
		Response:      &Shaping{Transformers: []transformer.Spec{jmes("{score: score}")}},
		SuccessAction: "SCORED",
		ErrorAction:   "SCORE_FAILED",
	}, Deps{Secrets: StaticSecrets{"API_TOKEN": "s3cret"}, HTTPClient: srv.Client()})

	assert.Equal(t, KindAPI, p.Kind())

	result := p.Invoke(context.Background(), entityDoc())
	require.NoError(t, result.Error)
	assert.Equal(t, "SCORED", result.CallbackAction)
	assert.Equal(t, map[string]any{"score": float64(42)}, result.ResponseBody)
}

func TestHTTPPluginNonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	p := buildOne(t, Descriptor{
		Name:          "scorer",
		URL:           srv.URL + "/score",
		SuccessAction: "SCORED",
		ErrorAction:   "SCORE_FAILED",
	}, Deps{HTTPClient: srv.Client()})

	result := p.Invoke(context.Background(), entityDoc())
	assert.Equal(t, "SCORE_FAILED", result.CallbackAction)
	assert.Nil(t, result.ResponseBody)
	require.ErrorIs(t, result.Error, ErrHTTPStatus)

	var httpErr *HTTPError
	require.ErrorAs(t, result.Error, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "upstream down", httpErr.Body)

	var invocationErr *InvocationError
	require.ErrorAs(t, result.Error, &invocationErr)
	assert.Equal(t, "scorer", invocationErr.Plugin)
	assert.Equal(t, CategoryAPI, invocationErr.Category)
}

func TestHTTPPluginValidatesResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	p := buildOne(t, Descriptor{
		Name: "scorer",
		URL:  srv.URL,
		Response: &Shaping{SchemaValidator: &transformer.ValidatorSpec{
			Type: transformer.ValidatorJSONSchema,
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"score"},
			},
		}},
		SuccessAction: "SCORED",
		ErrorAction:   "SCORE_FAILED",
	}, Deps{HTTPClient: srv.Client()})

	result := p.Invoke(context.Background(), entityDoc())
	require.ErrorIs(t, result.Error, transformer.ErrValidation)
	assert.Equal(t, "SCORE_FAILED", result.CallbackAction)
}

func TestHTTPPluginTextResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Empty(t, r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	p := buildOne(t, Descriptor{
		Name:          "ping",
		URL:           srv.URL,
		Method:        "get",
		SuccessAction: "PONG",
		ErrorAction:   "FAILED",
	}, Deps{HTTPClient: srv.Client()})

	result := p.Invoke(context.Background(), entityDoc())
	require.NoError(t, result.Error)
	assert.Equal(t, "pong", result.ResponseBody)
}

func TestWebhookIsFireAndForget(t *testing.T) {
	t.Parallel()

	hits := atomic.NewInt32(0)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Inc()
		assert.Equal(t, "e-1", readJSON(t, r)["entity"].(map[string]any)["id"])
		_, _ = w.Write([]byte(`{"ignored": true}`))
	}))
	defer srv.Close()

	p := buildOne(t, Descriptor{
		Name:          "notify",
		URL:           srv.URL,
		SuccessAction: "ONLY_SUCCESS",
	}, Deps{HTTPClient: srv.Client()})

	assert.Equal(t, KindWebhook, p.Kind())

	result := p.Invoke(context.Background(), entityDoc())
	assert.Equal(t, Result{}, result)
	assert.Equal(t, int32(1), hits.Load())
}

func TestVendorKindDefaults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ubo", r.URL.Path)
		assert.Equal(t, "Bearer unified-token", r.Header.Get("Authorization"))

		body := readJSON(t, r)
		assert.Equal(t, "acme-data", body["vendor"])
		assert.Equal(t, "Acme", body["name"])

		_, _ = w.Write([]byte(`{"owners": []}`))
	}))
	defer srv.Close()

	p := buildOne(t, Descriptor{
		PluginKind:    "ubo",
		Name:          "ubo",
		Vendor:        "acme-data",
		Request:       &Shaping{Transformers: []transformer.Spec{jmes("{name: entity.name}")}},
		SuccessAction: "UBO_DONE",
		ErrorAction:   "UBO_FAILED",
	}, Deps{
		HTTPClient: srv.Client(),
		Secrets:    StaticSecrets{"UNIFIED_API_TOKEN": "unified-token"},
		Vendors:    VendorEndpoints{UnifiedAPIURL: srv.URL + "/"},
	})

	assert.Equal(t, "ubo", p.Kind())

	result := p.Invoke(context.Background(), entityDoc())
	require.NoError(t, result.Error)
	assert.Equal(t, "UBO_DONE", result.CallbackAction)
	assert.Equal(t, map[string]any{"owners": []any{}}, result.ResponseBody)
}

func TestTemplateEmailAddsTemplate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer mail-token", r.Header.Get("Authorization"))
		assert.Equal(t, "welcome", readJSON(t, r)["template"])
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := buildOne(t, Descriptor{
		PluginKind: KindTemplateEmail,
		Name:       "welcome-email",
		Template:   "welcome",
	}, Deps{
		HTTPClient: srv.Client(),
		Secrets:    StaticSecrets{"EMAIL_API_TOKEN": "mail-token"},
		Vendors:    VendorEndpoints{EmailAPIURL: srv.URL},
	})

	result := p.Invoke(context.Background(), entityDoc())
	require.NoError(t, result.Error)
	assert.Empty(t, result.CallbackAction)
}

func TestHTTPPluginPlaceholderFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		secrets SecretsManager
		want    error
	}{
		{name: "missing secret", url: "http://localhost/{secret.NOPE}", secrets: StaticSecrets{}, want: ErrUnresolvedPlaceholder},
		{name: "no secrets manager", url: "http://localhost/{secret.TOKEN}", want: ErrSecretsUnavailable},
		{name: "missing path", url: "http://localhost/{entity.missing}", want: ErrUnresolvedPlaceholder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := buildOne(t, Descriptor{
				Name:          "call",
				URL:           tt.url,
				SuccessAction: "OK",
				ErrorAction:   "FAILED",
			}, Deps{Secrets: tt.secrets})

			result := p.Invoke(context.Background(), entityDoc())
			require.ErrorIs(t, result.Error, tt.want)
			assert.Equal(t, "FAILED", result.CallbackAction)
		})
	}
}

func TestHTTPPluginRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Build(context.Background(), Extensions{
		APIPlugins: []Descriptor{{Name: "nowhere", SuccessAction: "A", ErrorAction: "B"}},
	}, Deps{})
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestAPIKindSelection(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.RegisterAPI("custom", func(d Descriptor, deps Deps) (APIPlugin, error) {
		return NewHTTPPlugin("custom", d, deps, false)
	})

	tests := []struct {
		name string
		d    Descriptor
		want string
	}{
		{name: "email", d: Descriptor{PluginKind: KindTemplateEmail}, want: KindTemplateEmail},
		{name: "kyc session", d: Descriptor{PluginKind: KindKYCSession}, want: KindKYCSession},
		{name: "vendor kind", d: Descriptor{PluginKind: "company-sanctions"}, want: "company-sanctions"},
		{name: "registered kind", d: Descriptor{PluginKind: "custom"}, want: "custom"},
		{name: "unknown with callbacks", d: Descriptor{PluginKind: "mystery", SuccessAction: "A", ErrorAction: "B"}, want: KindAPI},
		{name: "unknown with one callback", d: Descriptor{PluginKind: "mystery", ErrorAction: "B"}, want: KindWebhook},
		{name: "no kind", d: Descriptor{}, want: KindWebhook},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, r.APIKind(tt.d))
		})
	}
}

func TestPlaceholdersCacheSecrets(t *testing.T) {
	t.Parallel()

	calls := atomic.NewInt32(0)
	secrets := countingSecrets{calls: calls, values: map[string]string{"A": "1", "B": "2"}}

	resolver := newPlaceholders(secrets)

	out, err := resolver.Replace(context.Background(), "{secret.A}-{secret.B}-{entity.name}-{documents[0].id}", entityDoc())
	require.NoError(t, err)
	assert.Equal(t, "1-2-Acme-d1", out)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPlaceholdersSecretsError(t *testing.T) {
	t.Parallel()

	_, err := newPlaceholders(failingSecrets{}).Replace(context.Background(), "{secret.A}", nil)
	require.ErrorIs(t, err, ErrSecretsUnavailable)
	require.ErrorIs(t, err, errVault)
}

var errVault = errors.New("vault sealed")

type countingSecrets struct {
	calls  *atomic.Int32
	values map[string]string
}

func (c countingSecrets) GetAll(context.Context) (map[string]string, error) {
	c.calls.Inc()

	return c.values, nil
}

type failingSecrets struct{}

func (failingSecrets) GetAll(context.Context) (map[string]string, error) {
	return nil, errVault
}
