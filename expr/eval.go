package expr

import (
	"fmt"
	"strings"
)

// EvalError is any failure during evaluation: a type mismatch, a missing
// key with no default, or an unsupported operand combination. Callers
// must coerce this to false rather than propagate it as an execution
// failure.
type EvalError struct {
	Msg string
}

func (e *EvalError) Error() string { return e.Msg }

// Getter is the minimal read surface eval needs from a state container,
// satisfied by state.State.Get.
type Getter interface {
	Get(key string) (any, bool)
}

// Eval walks tree against state and returns its value. The top-level
// caller of a condition expression should use EvalBool instead.
func Eval(n Node, s Getter) (any, error) {
	switch t := n.(type) {
	case Literal:
		return t.Value, nil
	case StateRef:
		return nil, &EvalError{Msg: "state cannot be used as a bare value"}
	case StateGet:
		key, err := Eval(t.Key, s)
		if err != nil {
			return nil, err
		}
		keyStr, ok := key.(string)
		if !ok {
			return nil, &EvalError{Msg: "state.get key must be a string"}
		}
		if v, ok := s.Get(keyStr); ok {
			return v, nil
		}
		if t.Default != nil {
			return Eval(t.Default, s)
		}
		return nil, nil
	case StateIndex:
		key, err := Eval(t.Key, s)
		if err != nil {
			return nil, err
		}
		keyStr, ok := key.(string)
		if !ok {
			return nil, &EvalError{Msg: "state[...] key must be a string"}
		}
		v, ok := s.Get(keyStr)
		if !ok {
			return nil, &EvalError{Msg: fmt.Sprintf("state key %q not found", keyStr)}
		}
		return v, nil
	case Unary:
		return evalUnary(t, s)
	case Binary:
		return evalBinary(t, s)
	default:
		return nil, &EvalError{Msg: fmt.Sprintf("unhandled node type %T", n)}
	}
}

// EvalBool evaluates tree and coerces the result to a boolean, per the
// "evaluation errors coerce to false" contract. The error is still
// returned (non-nil) so the caller can record it on the execution step
// without treating it as fatal.
func EvalBool(n Node, s Getter) (bool, error) {
	v, err := Eval(n, s)
	if err != nil {
		return false, err
	}
	b, err := toBool(v)
	if err != nil {
		return false, err
	}
	return b, nil
}

func evalUnary(u Unary, s Getter) (any, error) {
	v, err := Eval(u.X, s)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case "not":
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case "-":
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return -f, nil
	default:
		return nil, &EvalError{Msg: "unknown unary operator " + u.Op}
	}
}

func evalBinary(b Binary, s Getter) (any, error) {
	switch b.Op {
	case "and":
		l, err := Eval(b.L, s)
		if err != nil {
			return nil, err
		}
		lb, err := toBool(l)
		if err != nil {
			return nil, err
		}
		if !lb {
			return false, nil
		}
		r, err := Eval(b.R, s)
		if err != nil {
			return nil, err
		}
		return toBool(r)
	case "or":
		l, err := Eval(b.L, s)
		if err != nil {
			return nil, err
		}
		lb, err := toBool(l)
		if err != nil {
			return nil, err
		}
		if lb {
			return true, nil
		}
		r, err := Eval(b.R, s)
		if err != nil {
			return nil, err
		}
		return toBool(r)
	}

	l, err := Eval(b.L, s)
	if err != nil {
		return nil, err
	}
	r, err := Eval(b.R, s)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	case "<", "<=", ">", ">=":
		return compare(b.Op, l, r)
	case "in":
		return contains(r, l)
	case "+", "-", "*", "/", "%":
		return arith(b.Op, l, r)
	default:
		return nil, &EvalError{Msg: "unknown binary operator " + b.Op}
	}
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case nil:
		return false, nil
	case string:
		return t != "", nil
	case float64:
		return t != 0, nil
	default:
		return false, &EvalError{Msg: fmt.Sprintf("cannot coerce %T to bool", v)}
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	default:
		return 0, &EvalError{Msg: fmt.Sprintf("cannot coerce %T to number", v)}
	}
}

func equal(l, r any) bool {
	lf, lok := numeric(l)
	rf, rok := numeric(r)
	if lok && rok {
		return lf == rf
	}
	return l == r
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func compare(op string, l, r any) (bool, error) {
	if ls, ok := l.(string); ok {
		rs, ok := r.(string)
		if !ok {
			return false, &EvalError{Msg: "cannot compare string with non-string"}
		}
		c := strings.Compare(ls, rs)
		return compareResult(op, c), nil
	}
	lf, err := toFloat(l)
	if err != nil {
		return false, err
	}
	rf, err := toFloat(r)
	if err != nil {
		return false, err
	}
	c := 0
	switch {
	case lf < rf:
		c = -1
	case lf > rf:
		c = 1
	}
	return compareResult(op, c), nil
}

func compareResult(op string, c int) bool {
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case string:
		itemStr, ok := item.(string)
		if !ok {
			return false, &EvalError{Msg: "'in' against a string requires a string operand"}
		}
		return strings.Contains(c, itemStr), nil
	case []any:
		for _, v := range c {
			if equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, &EvalError{Msg: fmt.Sprintf("'in' is not supported against %T", container)}
	}
}

func arith(op string, l, r any) (any, error) {
	if op == "+" {
		if ls, ok := l.(string); ok {
			rs, ok := r.(string)
			if !ok {
				return nil, &EvalError{Msg: "cannot add string and non-string"}
			}
			return ls + rs, nil
		}
	}
	lf, err := toFloat(l)
	if err != nil {
		return nil, err
	}
	rf, err := toFloat(r)
	if err != nil {
		return nil, err
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, &EvalError{Msg: "division by zero"}
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, &EvalError{Msg: "modulo by zero"}
		}
		li, ri := int64(lf), int64(rf)
		return float64(li % ri), nil
	}
	return nil, &EvalError{Msg: "unknown arithmetic operator " + op}
}
