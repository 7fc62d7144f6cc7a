package automation

import (
	"strconv"
	"strings"
)

// Evaluate tests a single condition against the event. A missing field never matches.
func Evaluate(cond Condition, evt Event) (bool, error) {
	val, ok := evt.Field(cond.Field)
	if !ok {
		return false, nil
	}

	switch cond.Operator {
	case OpEquals:
		actual, _ := stringify(val)
		expected, _ := stringify(cond.Value)
		return actual == expected, nil

	case OpContains:
		actual, isText := val.(string)
		if !isText {
			return false, &TypeMismatchError{Field: cond.Field, Operator: cond.Operator, Value: val}
		}
		needle, _ := stringify(cond.Value)
		return strings.Contains(strings.ToLower(actual), strings.ToLower(needle)), nil

	case OpGt, OpLt:
		actual, ok := toNumber(val)
		if !ok {
			return false, &TypeMismatchError{Field: cond.Field, Operator: cond.Operator, Value: val}
		}
		expected, ok := toNumber(cond.Value)
		if !ok {
			return false, &TypeMismatchError{Field: cond.Field, Operator: cond.Operator, Value: cond.Value}
		}
		if cond.Operator == OpGt {
			return actual > expected, nil
		}
		return actual < expected, nil

	case OpIn:
		actual, _ := stringify(val)
		set, _ := stringify(cond.Value)
		for _, member := range strings.Split(set, ",") {
			if strings.TrimSpace(member) == actual {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, &UnknownOperatorError{Operator: cond.Operator}
	}
}

// EvaluateAll AND-combines conditions. An empty list matches.
// Evaluation stops at the first false or failing condition.
func EvaluateAll(conds []Condition, evt Event) (bool, []Condition, error) {
	matched := make([]Condition, 0, len(conds))
	for _, cond := range conds {
		ok, err := Evaluate(cond, evt)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			return false, nil, nil
		}
		matched = append(matched, cond)
	}
	return true, matched, nil
}

func stringify(v interface{}) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	default:
		if s, ok := toScalar(v); ok {
			return stringify(s)
		}
		return "", false
	}
}

func toNumber(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool, nil:
		return 0, false
	default:
		s, ok := toScalar(v)
		if !ok {
			return 0, false
		}
		f, ok := s.(float64)
		return f, ok
	}
}
