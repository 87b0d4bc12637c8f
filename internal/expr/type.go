package expr

import (
	"fmt"
	"strings"
)

// Kind classifies a Type.
type Kind uint8

const (
	// KindScalar is a single column value (int, string, ...).
	KindScalar Kind = iota + 1

	// KindEntity is a mapped entity (one row of a table).
	KindEntity

	// KindRecord is an anonymous composite, including transparent identifiers.
	KindRecord

	// KindSequence is a sequence of elements (a query or a collection).
	KindSequence

	// KindGrouping is a sequence of elements sharing a Key.
	KindGrouping
)

// Scalar type names.
const (
	Int      = "int"
	Long     = "long"
	Double   = "double"
	Float    = "float"
	Decimal  = "decimal"
	String   = "string"
	Bool     = "bool"
	DateTime = "datetime"
)

var scalarNames = map[string]bool{
	Int: true, Long: true, Double: true, Float: true,
	Decimal: true, String: true, Bool: true, DateTime: true,
}

// IsScalarName reports whether name is a known scalar type name.
func IsScalarName(name string) bool {
	return scalarNames[name]
}

// Type describes the static type of an expression.
//
// Entity types are built once by the schema layer (AddField during
// construction, read-only afterwards). All other types are values that may
// be created freely and compared with Equal.
type Type struct {
	Kind Kind

	// Name is the scalar name or the entity name. Records may leave it empty.
	Name string

	// Nullable marks a nullable scalar. Entities, records and sequences are
	// reference-like and always admit null.
	Nullable bool

	// Elem is the element type of a sequence or grouping.
	Elem *Type

	// Key is the key type of a grouping.
	Key *Type

	// Fields are the members of a record or entity, in declaration order.
	Fields []Field

	// Transparent marks a record introduced as a transparent identifier.
	Transparent bool

	// Table is the backing table of an entity type.
	Table string
}

// Field is a named member of a record or entity type.
type Field struct {
	Name string
	Type *Type
}

var scalarCache = func() map[string][2]*Type {
	m := make(map[string][2]*Type, len(scalarNames))
	for name := range scalarNames {
		m[name] = [2]*Type{
			{Kind: KindScalar, Name: name},
			{Kind: KindScalar, Name: name, Nullable: true},
		}
	}
	return m
}()

// ScalarOf returns the non-nullable scalar type with the given name.
// Panics if name is not a scalar name.
func ScalarOf(name string) *Type {
	pair, ok := scalarCache[name]
	if !ok {
		panic(fmt.Sprintf("expr: unknown scalar type %q", name))
	}
	return pair[0]
}

// NullableOf returns the nullable variant of a scalar type. Non-scalar types
// are returned unchanged.
func NullableOf(t *Type) *Type {
	if t == nil || t.Kind != KindScalar || t.Nullable {
		return t
	}
	return scalarCache[t.Name][1]
}

// NonNullable strips the nullable flag from a scalar type.
func NonNullable(t *Type) *Type {
	if t == nil || t.Kind != KindScalar || !t.Nullable {
		return t
	}
	return scalarCache[t.Name][0]
}

// SequenceOf returns the sequence type with element type elem.
func SequenceOf(elem *Type) *Type {
	return &Type{Kind: KindSequence, Elem: elem}
}

// GroupingOf returns a grouping type with the given key and element types.
func GroupingOf(key, elem *Type) *Type {
	return &Type{Kind: KindGrouping, Key: key, Elem: elem}
}

// RecordOf returns an anonymous record type.
func RecordOf(fields ...Field) *Type {
	return &Type{Kind: KindRecord, Fields: fields}
}

// TransparentOf returns a transparent identifier record type.
func TransparentOf(fields ...Field) *Type {
	return &Type{Kind: KindRecord, Fields: fields, Transparent: true}
}

// NewEntity returns an entity type with no members. Members are added with
// AddField while the schema is being built.
func NewEntity(name, table string) *Type {
	return &Type{Kind: KindEntity, Name: name, Table: table}
}

// AddField appends a member to an entity or record type under construction.
func (t *Type) AddField(name string, ft *Type) {
	t.Fields = append(t.Fields, Field{Name: name, Type: ft})
}

// Member returns the type of the named member.
//
// Records and entities expose their fields. Groupings expose Key.
func (t *Type) Member(name string) (*Type, bool) {
	if t == nil {
		return nil, false
	}
	switch t.Kind {
	case KindRecord, KindEntity:
		for _, f := range t.Fields {
			if f.Name == name {
				return f.Type, true
			}
		}
	case KindGrouping:
		if name == "Key" {
			return t.Key, true
		}
	}
	return nil, false
}

// FieldIndex returns the position of the named field, or -1.
func (t *Type) FieldIndex(name string) int {
	if t == nil {
		return -1
	}
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// IsSequence reports whether values of t can be enumerated.
func (t *Type) IsSequence() bool {
	return t != nil && (t.Kind == KindSequence || t.Kind == KindGrouping)
}

// IsEntity reports whether t is an entity type.
func (t *Type) IsEntity() bool {
	return t != nil && t.Kind == KindEntity
}

// IsScalar reports whether t is a scalar type.
func (t *Type) IsScalar() bool {
	return t != nil && t.Kind == KindScalar
}

// IsNumeric reports whether t is a numeric scalar.
func (t *Type) IsNumeric() bool {
	if !t.IsScalar() {
		return false
	}
	switch t.Name {
	case Int, Long, Double, Float, Decimal:
		return true
	}
	return false
}

// ElemType returns the element type of a sequence or grouping, or nil.
func (t *Type) ElemType() *Type {
	if !t.IsSequence() {
		return nil
	}
	return t.Elem
}

// Equal reports whether t and u denote the same type.
func (t *Type) Equal(u *Type) bool {
	if t == u {
		return true
	}
	if t == nil || u == nil || t.Kind != u.Kind {
		return false
	}
	switch t.Kind {
	case KindScalar:
		return t.Name == u.Name && t.Nullable == u.Nullable
	case KindEntity:
		return t.Name == u.Name
	case KindSequence:
		return t.Elem.Equal(u.Elem)
	case KindGrouping:
		return t.Key.Equal(u.Key) && t.Elem.Equal(u.Elem)
	case KindRecord:
		if t.Transparent != u.Transparent || len(t.Fields) != len(u.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != u.Fields[i].Name || !t.Fields[i].Type.Equal(u.Fields[i].Type) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the type for diagnostics and the tree printer.
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindScalar:
		if t.Nullable {
			return t.Name + "?"
		}
		return t.Name
	case KindEntity:
		return t.Name
	case KindSequence:
		return "seq<" + t.Elem.String() + ">"
	case KindGrouping:
		return "grouping<" + t.Key.String() + "," + t.Elem.String() + ">"
	case KindRecord:
		var b strings.Builder
		if t.Transparent {
			b.WriteString("<>")
		}
		b.WriteString("{")
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Name)
			b.WriteString(": ")
			b.WriteString(f.Type.String())
		}
		b.WriteString("}")
		return b.String()
	}
	return "?"
}

// Assignable reports whether a value of type from can be used where to is
// expected. A non-nullable scalar is assignable to its nullable variant, and
// null (a nil type) is assignable to anything that admits null.
func Assignable(from, to *Type) bool {
	if from.Equal(to) {
		return true
	}
	if from.IsScalar() && to.IsScalar() && to.Nullable && from.Name == to.Name {
		return true
	}
	return false
}

// Comparable reports whether values of a and b may be compared with == and
// !=. Scalars compare when their names match, ignoring nullability.
func Comparable(a, b *Type) bool {
	if a.IsScalar() && b.IsScalar() {
		if a.Name == b.Name {
			return true
		}
		return a.IsNumeric() && b.IsNumeric()
	}
	return a.Equal(b)
}
