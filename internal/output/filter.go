package output

import (
	"github.com/itchyny/gojq"
	"github.com/jmespath/go-jmespath"
)

// Filter transforms a decoded JSON value before it is printed.
type Filter interface {
	Apply(v any) (any, error)
}

// JMESPath filters with a compiled JMESPath expression.
type JMESPath struct {
	expr string
	jp   *jmespath.JMESPath
}

// NewJMESPath compiles expr.
func NewJMESPath(expr string) (*JMESPath, error) {
	jp, err := jmespath.Compile(expr)
	if err != nil {
		return nil, ErrUsagef("JMESPath %s: %v", expr, err)
	}
	return &JMESPath{expr: expr, jp: jp}, nil
}

func (f *JMESPath) Apply(v any) (any, error) {
	out, err := f.jp.Search(v)
	if err != nil {
		return nil, ErrUsagef("JMESPath %s: %v", f.expr, err)
	}
	return out, nil
}

// JQ filters with a compiled jq program. A program that emits one value
// yields that value; several values are collected into an array.
type JQ struct {
	expr string
	code *gojq.Code
}

// NewJQ compiles expr.
func NewJQ(expr string) (*JQ, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, ErrUsagef("jq %s: %v", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, ErrUsagef("jq %s: %v", expr, err)
	}
	return &JQ{expr: expr, code: code}, nil
}

func (f *JQ) Apply(v any) (any, error) {
	var out []any
	iter := f.code.Run(v)
	for {
		x, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := x.(error); isErr {
			return nil, ErrUsagef("jq %s: %v", f.expr, err)
		}
		out = append(out, x)
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}
