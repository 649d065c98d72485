package tsquery

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Sanitizer memoizes Sanitize for repeated search strings. The zero size disables the
// memo. A Sanitizer is safe for concurrent use.
type Sanitizer struct {
	memo *lru.Cache[string, Query]
}

// NewSanitizer returns a Sanitizer remembering up to size inputs.
func NewSanitizer(size int) (*Sanitizer, error) {
	if size <= 0 {
		return &Sanitizer{}, nil
	}
	memo, err := lru.New[string, Query](size)
	if err != nil {
		return nil, err
	}
	return &Sanitizer{memo: memo}, nil
}

// Sanitize behaves like the package-level Sanitize.
func (s *Sanitizer) Sanitize(input string) Query {
	if s == nil || s.memo == nil {
		return Sanitize(input)
	}
	if q, ok := s.memo.Get(input); ok {
		return q
	}
	q := Sanitize(input)
	s.memo.Add(input, q)
	return q
}

// SanitizeValue behaves like the package-level SanitizeValue.
func (s *Sanitizer) SanitizeValue(v any) (Query, error) {
	switch text := v.(type) {
	case string:
		return s.Sanitize(text), nil
	case *string:
		if text != nil {
			return s.Sanitize(*text), nil
		}
	}
	return Query{}, ErrNotText
}

// Len returns the number of memoized inputs.
func (s *Sanitizer) Len() int {
	if s == nil || s.memo == nil {
		return 0
	}
	return s.memo.Len()
}
