package transformer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entityDoc() map[string]any {
	return map[string]any{
		"entity": map[string]any{
			"id":   "e-1",
			"name": "Acme",
			"data": map[string]any{"website": "https://acme.example/about", "secret": "x"},
		},
		"documents": []any{
			map[string]any{"id": "d1", "status": "approved"},
			map[string]any{"id": "d2", "status": "rejected"},
		},
	}
}

func TestNewRejectsBadSpecs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec Spec
		want error
	}{
		{name: "unknown kind", spec: Spec{Transformer: "xslt", Mapping: "x"}, want: ErrUnknownKind},
		{name: "jmespath without mapping", spec: Spec{Transformer: KindJMESPath}, want: ErrInvalidMapping},
		{name: "jmespath syntax", spec: Spec{Transformer: KindJMESPath, Mapping: "a[?"}, want: ErrInvalidMapping},
		{name: "logic without mapping", spec: Spec{Transformer: KindJSONLogic}, want: ErrInvalidMapping},
		{name: "script syntax", spec: Spec{Transformer: KindScript, Mapping: "return {"}, want: ErrInvalidMapping},
		{
			name: "helper unknown method",
			spec: Spec{Transformer: KindHelper, Mapping: []any{map[string]any{"method": "explode", "source": "a"}}},
			want: ErrInvalidMapping,
		},
		{
			name: "helper bad regex",
			spec: Spec{Transformer: KindHelper, Mapping: []any{map[string]any{"method": "regex", "source": "a", "value": "("}}},
			want: ErrInvalidMapping,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.spec)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJMESPathTransformer(t *testing.T) {
	t.Parallel()

	tr, err := New(Spec{
		Transformer: KindJMESPath,
		Mapping:     "{id: entity.id, rejected: documents[?status=='rejected'].id}",
	})
	require.NoError(t, err)

	out, err := tr.Transform(t.Context(), entityDoc())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "e-1", "rejected": []any{"d2"}}, out)
}

func TestLogicTransformer(t *testing.T) {
	t.Parallel()

	tr, err := New(Spec{
		Transformer: KindJSONLogic,
		Mapping:     map[string]any{"cat": []any{"entity-", map[string]any{"var": "entity.id"}}},
	})
	require.NoError(t, err)

	out, err := tr.Transform(t.Context(), entityDoc())
	require.NoError(t, err)
	assert.Equal(t, "entity-e-1", out)
}

func TestScriptTransformer(t *testing.T) {
	t.Parallel()

	tr, err := New(Spec{
		Transformer: KindScript,
		Mapping: `
			input.entity.name = "changed";
			return { name: "Acme".toUpperCase(), count: input.documents.length };`,
	})
	require.NoError(t, err)

	doc := entityDoc()

	out, err := tr.Transform(t.Context(), doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ACME", "count": 2.0}, out)
	assert.Equal(t, "Acme", doc["entity"].(map[string]any)["name"], "input must not be modified") //nolint:forcetypeassert

	empty, err := New(Spec{Transformer: KindScript, Mapping: "return undefined;"})
	require.NoError(t, err)

	out, err = empty.Transform(t.Context(), doc)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestScriptTransformerIsInterruptible(t *testing.T) {
	t.Parallel()

	tr, err := New(Spec{Transformer: KindScript, Mapping: "while (true) {}"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err = tr.Transform(ctx, map[string]any{})
	require.ErrorIs(t, err, ErrScriptInterrupted)
}

func TestHelperTransformer(t *testing.T) {
	t.Parallel()

	tr, err := New(Spec{
		Transformer: KindHelper,
		Mapping: []any{
			map[string]any{"method": "remove", "source": "entity.data.secret"},
			map[string]any{"method": "copy", "source": "entity.name", "target": "company.name"},
			map[string]any{"method": "regex", "source": "entity.data.website", "target": "company.domain", "value": `https?://([^/]+)`},
			map[string]any{"method": "setTimeToRecordUTC", "target": "company.recordedAt"},
		},
	})
	require.NoError(t, err)

	helper := tr.(*helperTransformer) //nolint:forcetypeassert
	helper.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600)) }

	doc := entityDoc()

	out, err := tr.Transform(t.Context(), doc)
	require.NoError(t, err)

	result := out.(map[string]any) //nolint:forcetypeassert
	assert.Equal(t, map[string]any{
		"name":       "Acme",
		"domain":     "acme.example",
		"recordedAt": "2024-01-02T02:04:05Z",
	}, result["company"])
	assert.NotContains(t, result["entity"].(map[string]any)["data"], "secret") //nolint:forcetypeassert
	assert.Contains(t, doc["entity"].(map[string]any)["data"], "secret")       //nolint:forcetypeassert

	_, err = tr.Transform(t.Context(), "not an object")
	require.ErrorIs(t, err, ErrTransform)
}

func TestApplyChainsTransformers(t *testing.T) {
	t.Parallel()

	specs, err := DecodeSpecs([]any{
		map[string]any{"transformer": "jmespath", "mapping": "entity"},
		map[string]any{"transformer": "json-logic", "mapping": map[string]any{"var": "name"}},
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)

	chain, err := NewAll(specs)
	require.NoError(t, err)

	out, err := Apply(t.Context(), chain, entityDoc())
	require.NoError(t, err)
	assert.Equal(t, "Acme", out)

	out, err = Apply(t.Context(), nil, "unchanged")
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)

	none, err := DecodeSpecs(nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestApplyWrapsFailures(t *testing.T) {
	t.Parallel()

	chain, err := NewAll([]Spec{{Transformer: KindScript, Mapping: "throw new Error('nope');"}})
	require.NoError(t, err)

	_, err = Apply(t.Context(), chain, map[string]any{})
	require.ErrorIs(t, err, ErrTransform)
	assert.Contains(t, err.Error(), "nope")
}
