package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToContextPreservesDisjointKeys(t *testing.T) {
	t.Parallel()

	source := map[string]any{
		"root": map[string]any{
			"a": map[string]any{"y": 2},
			"b": 3,
		},
	}

	got := ToContext(source, map[string]any{"a": map[string]any{"x": 1}}, "root")

	assert.Equal(t, map[string]any{
		"root": map[string]any{
			"a": map[string]any{"x": 1, "y": 2},
			"b": 3,
		},
	}, got)
}

func TestToContextCreatesIntermediateMaps(t *testing.T) {
	t.Parallel()

	got := ToContext(map[string]any{"pluginsOutput": "not-a-map"},
		map[string]any{"status": "ok"}, "pluginsOutput.kyc.result")

	assert.Equal(t, map[string]any{
		"pluginsOutput": map[string]any{
			"kyc": map[string]any{
				"result": map[string]any{"status": "ok"},
			},
		},
	}, got)
}

func TestToContextNilSource(t *testing.T) {
	t.Parallel()

	got := ToContext(nil, map[string]any{"k": "v"}, "out")

	assert.Equal(t, map[string]any{"out": map[string]any{"k": "v"}}, got)
}

func TestDeepMergeOverwritesArrays(t *testing.T) {
	t.Parallel()

	target := map[string]any{"list": []any{1, 2}, "keep": true}
	source := map[string]any{"list": []any{3}}

	got := DeepMerge(source, target)

	assert.Equal(t, map[string]any{"list": []any{3}, "keep": true}, got)
	assert.Equal(t, []any{1, 2}, target["list"], "target must not be modified")
}

func TestDeepMergeReplacesScalarWithMap(t *testing.T) {
	t.Parallel()

	got := DeepMerge(map[string]any{"a": map[string]any{"b": 1}}, map[string]any{"a": "scalar"})

	assert.Equal(t, map[string]any{"a": map[string]any{"b": 1}}, got)
}

func TestWithOptions(t *testing.T) {
	t.Parallel()

	target := map[string]any{
		"docs": []any{
			map[string]any{"id": "1", "status": "pending"},
			map[string]any{"id": "2", "status": "pending"},
		},
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"list": []any{1}},
	}

	tests := []struct {
		name   string
		option ArrayMergeOption
		source map[string]any
		want   map[string]any
	}{
		{
			name:   "replace",
			option: ArrayReplace,
			source: map[string]any{"tags": []any{"c"}},
			want: map[string]any{
				"docs":   target["docs"],
				"tags":   []any{"c"},
				"nested": map[string]any{"list": []any{1}},
			},
		},
		{
			name:   "concat applies at depth",
			option: ArrayConcat,
			source: map[string]any{"tags": []any{"c"}, "nested": map[string]any{"list": []any{2}}},
			want: map[string]any{
				"docs":   target["docs"],
				"tags":   []any{"a", "b", "c"},
				"nested": map[string]any{"list": []any{1, 2}},
			},
		},
		{
			name:   "by index",
			option: ArrayByIndex,
			source: map[string]any{"tags": []any{"z"}},
			want: map[string]any{
				"docs":   target["docs"],
				"tags":   []any{"z", "b"},
				"nested": map[string]any{"list": []any{1}},
			},
		},
		{
			name:   "by id",
			option: ArrayByID,
			source: map[string]any{"docs": []any{
				map[string]any{"id": "2", "status": "approved"},
				map[string]any{"id": "3", "status": "new"},
			}},
			want: map[string]any{
				"docs": []any{
					map[string]any{"id": "1", "status": "pending"},
					map[string]any{"id": "2", "status": "approved"},
					map[string]any{"id": "3", "status": "new"},
				},
				"tags":   []any{"a", "b"},
				"nested": map[string]any{"list": []any{1}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, WithOptions(target, tt.source, tt.option))
		})
	}
}

func TestParseArrayMergeOption(t *testing.T) {
	t.Parallel()

	opt, err := ParseArrayMergeOption("")
	require.NoError(t, err)
	assert.Equal(t, ArrayReplace, opt)

	opt, err = ParseArrayMergeOption("by_id")
	require.NoError(t, err)
	assert.Equal(t, ArrayByID, opt)

	_, err = ParseArrayMergeOption("zip")
	require.ErrorIs(t, err, ErrUnknownArrayMergeOption)
}

func TestAsMapConvertsTypedMaps(t *testing.T) {
	t.Parallel()

	m, ok := AsMap(map[string]string{"a": "b"})
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": "b"}, m)

	_, ok = AsMap([]any{})
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := map[string]any{"a": map[string]any{"b": []any{1}}}
	cp := CloneMap(orig)

	cp["a"].(map[string]any)["b"].([]any)[0] = 2 //nolint:forcetypeassert

	assert.Equal(t, 1, orig["a"].(map[string]any)["b"].([]any)[0]) //nolint:forcetypeassert
}
