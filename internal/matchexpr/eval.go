package matchexpr

import (
	"strconv"

	"evalgo.org/flightdeck/models"
)

// value is a runtime value. missing marks a reference to an absent key.
type value struct {
	t       valueType
	s       string
	n       float64
	b       bool
	missing bool
}

func eval(n node, t *models.Target) value {
	switch n := n.(type) {
	case fieldRef:
		s, ok := lookup(n, t)
		return value{t: typeString, s: s, missing: !ok}
	case stringLit:
		return value{t: typeString, s: n.value}
	case numberLit:
		return value{t: typeNumber, n: n.value}
	case boolLit:
		return value{t: typeBool, b: n.value}
	case not:
		return value{t: typeBool, b: !eval(n.operand, t).b}
	case logical:
		l := eval(n.left, t).b
		if n.and && !l {
			return value{t: typeBool}
		}
		if !n.and && l {
			return value{t: typeBool, b: true}
		}
		return value{t: typeBool, b: eval(n.right, t).b}
	case compare:
		l, r := eval(n.left, t), eval(n.right, t)
		if l.missing || r.missing {
			return value{t: typeBool}
		}
		eq := equal(l, r)
		return value{t: typeBool, b: eq != n.negate}
	case regexTest:
		v := eval(n.operand, t)
		if v.missing {
			return value{t: typeBool}
		}
		return value{t: typeBool, b: n.re.MatchString(v.s)}
	}
	return value{t: typeBool}
}

func lookup(f fieldRef, t *models.Target) (string, bool) {
	switch f.kind {
	case fieldAlias:
		return t.Alias, true
	case fieldConnectURL:
		return t.ConnectURL, true
	case fieldJvmID:
		return t.JvmID, true
	case fieldLabel:
		v, ok := t.Labels[f.key]
		return v, ok
	case fieldCryostatAnnotation:
		v, ok := t.Annotations.Cryostat[f.key]
		return v, ok
	case fieldPlatformAnnotation:
		v, ok := t.Annotations.Platform[f.key]
		return v, ok
	}
	return "", false
}

// equal compares loosely: numbers match numeric strings and booleans match
// "true"/"false". Numbers never equal booleans.
func equal(l, r value) bool {
	if l.t == r.t {
		switch l.t {
		case typeString:
			return l.s == r.s
		case typeNumber:
			return l.n == r.n
		default:
			return l.b == r.b
		}
	}
	if l.t == typeString {
		l, r = r, l
	}
	if r.t != typeString {
		return false
	}
	switch l.t {
	case typeNumber:
		f, err := strconv.ParseFloat(r.s, 64)
		return err == nil && f == l.n
	case typeBool:
		return strconv.FormatBool(l.b) == r.s
	}
	return false
}
