package ingest

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// JsonWalker evaluates JSONPath selectors against decoded JSON documents.
// Parsed selectors are cached, so a walker must not be shared between goroutines.
type JsonWalker struct {
	exprs map[string]jp.Expr
}

func NewJsonWalker() *JsonWalker {
	return &JsonWalker{exprs: make(map[string]jp.Expr)}
}

// Query returns every value matched by selector.
func (w *JsonWalker) Query(root any, selector string) ([]any, error) {
	x, ok := w.exprs[selector]
	if !ok {
		var err error
		x, err = jp.ParseString(selector)
		if err != nil {
			return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
		}
		w.exprs[selector] = x
	}
	return x.Get(root), nil
}

// First returns the first match, ok is false when nothing matched.
func (w *JsonWalker) First(root any, selector string) (any, bool, error) {
	results, err := w.Query(root, selector)
	if err != nil || len(results) == 0 {
		return nil, false, err
	}
	return results[0], true, nil
}
