package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/amp-labs/workflow-core/rules"
)

const secretPrefix = "secret."

var (
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
	ErrSecretsUnavailable    = errors.New("secrets manager unavailable")
)

// SecretsManager returns the secrets placeholders like {secret.API_KEY}
// resolve against.
type SecretsManager interface {
	GetAll(ctx context.Context) (map[string]string, error)
}

// StaticSecrets is a SecretsManager over a fixed map.
type StaticSecrets map[string]string

func (s StaticSecrets) GetAll(context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = v
	}

	return out, nil
}

// EnvSecrets reads secrets from environment variables starting with Prefix;
// the prefix is stripped from the secret name.
type EnvSecrets struct {
	Prefix string
}

func (e EnvSecrets) GetAll(context.Context) (map[string]string, error) {
	out := make(map[string]string)

	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, e.Prefix) {
			continue
		}

		out[strings.TrimPrefix(key, e.Prefix)] = value
	}

	return out, nil
}

var placeholderPattern = regexp.MustCompile(`\{([^{}\s]+)\}`)

// placeholders substitutes {secret.NAME} and {json.path} references in
// templates such as plugin URLs and headers.
type placeholders struct {
	secrets SecretsManager
	cache   map[string]string
}

func newPlaceholders(secrets SecretsManager) *placeholders {
	return &placeholders{secrets: secrets}
}

func (p *placeholders) secret(ctx context.Context, name string) (string, error) {
	if p.cache == nil {
		if p.secrets == nil {
			return "", fmt.Errorf("%w: %s requested", ErrSecretsUnavailable, name)
		}

		all, err := p.secrets.GetAll(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrSecretsUnavailable, err)
		}

		p.cache = all
	}

	value, ok := p.cache[name]
	if !ok {
		return "", fmt.Errorf("%w: {%s%s}", ErrUnresolvedPlaceholder, secretPrefix, name)
	}

	return value, nil
}

// Replace resolves every placeholder in template. Secrets come from the
// secrets manager, everything else is a JMESPath expression over data.
func (p *placeholders) Replace(ctx context.Context, template string, data any) (string, error) {
	var firstErr error

	out := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		if firstErr != nil {
			return match
		}

		key := match[1 : len(match)-1]

		if name, ok := strings.CutPrefix(key, secretPrefix); ok {
			value, err := p.secret(ctx, name)
			if err != nil {
				firstErr = err

				return match
			}

			return value
		}

		value, err := rules.EvaluatePath(key, data)
		if err != nil || value == nil {
			firstErr = fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, match)

			return match
		}

		return stringify(value)
	})

	if firstErr != nil {
		return "", firstErr
	}

	return out, nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(raw)
	}
}
