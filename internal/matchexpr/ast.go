package matchexpr

import "regexp"

// valueType is the static type of an AST node.
type valueType int

const (
	typeBool valueType = iota
	typeString
	typeNumber
)

func (t valueType) String() string {
	switch t {
	case typeBool:
		return "boolean"
	case typeString:
		return "string"
	default:
		return "number"
	}
}

type node interface {
	typ() valueType
}

// fieldKind selects which part of a target a field reference reads.
type fieldKind int

const (
	fieldAlias fieldKind = iota
	fieldConnectURL
	fieldJvmID
	fieldLabel
	fieldCryostatAnnotation
	fieldPlatformAnnotation
)

type fieldRef struct {
	kind fieldKind
	key  string // map key for labels and annotations
}

type stringLit struct{ value string }

type numberLit struct{ value float64 }

type boolLit struct{ value bool }

type compare struct {
	negate      bool
	left, right node
}

type logical struct {
	and         bool
	left, right node
}

type not struct{ operand node }

type regexTest struct {
	re      *regexp.Regexp
	operand node
}

func (fieldRef) typ() valueType  { return typeString }
func (stringLit) typ() valueType { return typeString }
func (numberLit) typ() valueType { return typeNumber }
func (boolLit) typ() valueType   { return typeBool }
func (compare) typ() valueType   { return typeBool }
func (logical) typ() valueType   { return typeBool }
func (not) typ() valueType       { return typeBool }
func (regexTest) typ() valueType { return typeBool }
