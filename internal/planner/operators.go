package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/catalog"
)

var textTypes = []string{"text", "varchar", "bpchar", "citext", "name"}

var nonComparable = []string{catalog.TypeTSVector, "json", "jsonb"}

func builtinOperators() []Operator {
	comparison := func(name, sqlOp string) Operator {
		return Operator{
			Name:     name,
			Excluded: nonComparable,
			Build: func(ctx *FilterContext) (string, error) {
				return fmt.Sprintf("%s %s %s", ctx.Source, sqlOp, ctx.Placeholder(normalizeValue(ctx.Value))), nil
			},
		}
	}
	like := func(name, sqlOp string, pattern func(string) string) Operator {
		return Operator{
			Name:  name,
			Types: textTypes,
			Build: func(ctx *FilterContext) (string, error) {
				s, ok := ctx.Value.(string)
				if !ok {
					return "", fulltext.NewInvalidOperandError(ctx.Field.Name, ctx.Operator, ctx.Value)
				}
				return fmt.Sprintf("%s %s %s", ctx.Source, sqlOp, ctx.Placeholder(pattern(escapeLike(s)))), nil
			},
		}
	}

	return []Operator{
		comparison(fulltext.OpEquals, "="),
		comparison(fulltext.OpNotEquals, "<>"),
		comparison(fulltext.OpGreater, ">"),
		comparison(fulltext.OpGreaterEq, ">="),
		comparison(fulltext.OpLess, "<"),
		comparison(fulltext.OpLessEq, "<="),
		like(fulltext.OpContains, "ILIKE", func(s string) string { return "%" + s + "%" }),
		like(fulltext.OpIncludes, "LIKE", func(s string) string { return "%" + s + "%" }),
		like(fulltext.OpStartsWith, "LIKE", func(s string) string { return s + "%" }),
		{
			Name: fulltext.OpIsNull,
			Build: func(ctx *FilterContext) (string, error) {
				isNull, err := boolOperand(ctx.Value)
				if err != nil {
					return "", fulltext.NewInvalidInputError(fulltext.ErrCodeInvalidOperand, err.Error()).
						WithField(ctx.Field.Name).WithDetail("operator", ctx.Operator)
				}
				if isNull {
					return ctx.Source + " IS NULL", nil
				}
				return ctx.Source + " IS NOT NULL", nil
			},
		},
	}
}

// normalizeValue turns decoded JSON numbers into values pgx can encode.
func normalizeValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func boolOperand(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("is_null expects true or false, got %v", v)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
