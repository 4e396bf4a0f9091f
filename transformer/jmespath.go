package transformer

import (
	"context"
	"fmt"

	"github.com/amp-labs/workflow-core/rules"
	"github.com/jmespath/go-jmespath"
)

type jmesPathTransformer struct {
	expr  string
	query *jmespath.JMESPath
}

func newJMESPath(mapping any) (*jmesPathTransformer, error) {
	expr, ok := mapping.(string)
	if !ok || expr == "" {
		return nil, fmt.Errorf("%w: jmespath mapping must be a non-empty string", ErrInvalidMapping)
	}

	query, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMapping, err)
	}

	return &jmesPathTransformer{expr: expr, query: query}, nil
}

func (t *jmesPathTransformer) Kind() Kind {
	return KindJMESPath
}

func (t *jmesPathTransformer) Transform(_ context.Context, input any) (any, error) {
	data, err := rules.Normalize(input)
	if err != nil {
		return nil, err
	}

	return t.query.Search(data)
}
