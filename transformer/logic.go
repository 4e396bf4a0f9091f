package transformer

import (
	"context"
	"fmt"

	"github.com/amp-labs/workflow-core/rules"
)

// logicTransformer evaluates a JSON Logic rule and returns its result.
type logicTransformer struct {
	rule any
}

func newLogic(mapping any) (*logicTransformer, error) {
	if mapping == nil {
		return nil, fmt.Errorf("%w: json-logic mapping is required", ErrInvalidMapping)
	}

	return &logicTransformer{rule: mapping}, nil
}

func (t *logicTransformer) Kind() Kind {
	return KindJSONLogic
}

func (t *logicTransformer) Transform(_ context.Context, input any) (any, error) {
	return rules.EvaluateLogic(t.rule, input)
}
