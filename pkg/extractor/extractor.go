// Package extractor reads values out of an item's open extra bag using JMESPath expressions
package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Extractor evaluates JMESPath expressions and caches their compiled form
type Extractor struct {
	mu       sync.RWMutex
	compiled map[string]*jmespath.JMESPath
}

// New creates a new Extractor
func New() *Extractor {
	return &Extractor{
		compiled: make(map[string]*jmespath.JMESPath),
	}
}

// Compile validates an expression and caches it
func (e *Extractor) Compile(expr string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	jp, ok := e.compiled[expr]
	e.mu.RUnlock()
	if ok {
		return jp, nil
	}

	jp, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, err)
	}

	e.mu.Lock()
	e.compiled[expr] = jp
	e.mu.Unlock()
	return jp, nil
}

// Extract evaluates expr against data. A nil result means the value is absent.
func (e *Extractor) Extract(data map[string]any, expr string) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	jp, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}
	return jp.Search(data)
}

// ExtractString extracts a value and converts it to a string
func (e *Extractor) ExtractString(data map[string]any, expr string) (*string, error) {
	value, err := e.Extract(data, expr)
	if err != nil || value == nil {
		return nil, err
	}
	s := ToString(value)
	return &s, nil
}

// ToString renders an extracted value as a string
func ToString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(raw)
	}
}
