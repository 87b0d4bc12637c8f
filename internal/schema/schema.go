// Package schema loads an entity model written in CUE and turns it into the
// entity types and descriptor set the rewrite passes consume.
//
// A model file declares one struct per entity under the top-level "entity"
// field:
//
//	entity: Order: {
//		table: "Orders"
//		key: ["OrderID"]
//		fields: {OrderID: "int", CustomerID: "string?", OrderDate: "datetime"}
//		navigation: {
//			Customer: {target: "Customer", outer: ["CustomerID"], inner: ["CustomerID"]}
//			Details:  {target: "OrderDetail", many: true, outer: ["OrderID"], inner: ["OrderID"]}
//		}
//	}
//
// A trailing "?" marks a nullable field. A navigation's inner key defaults
// to the target's primary key.
//
// Compilation runs in two phases: every entity type is created with its
// scalar fields first, then navigation members are added once every target
// exists, so entities may refer to each other in any order.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/navsql/internal/descriptor"
	"github.com/roach88/navsql/internal/expr"
)

// Model is a compiled entity model.
type Model struct {
	// Entities maps entity names to their types.
	Entities map[string]*expr.Type

	// Tables maps table names (the root sequences of query text) to entity
	// types.
	Tables map[string]*expr.Type

	Descriptors *descriptor.Set
}

// Entity returns the entity type with the given name.
func (m *Model) Entity(name string) (*expr.Type, bool) {
	t, ok := m.Entities[name]
	return t, ok
}

// Root returns the root sequence for a table name.
func (m *Model) Root(table string) (*expr.Source, bool) {
	t, ok := m.Tables[table]
	if !ok {
		return nil, false
	}
	return expr.SourceOf(t), true
}

// Names returns the entity names in sorted order.
func (m *Model) Names() []string {
	names := make([]string, 0, len(m.Entities))
	for n := range m.Entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CompileString compiles CUE source text. filename is used in error
// positions.
func CompileString(src, filename string) (*Model, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// LoadFile compiles a single CUE file.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return CompileString(string(data), path)
}

// LoadDir loads the CUE package in dir and compiles it.
func LoadDir(dir string) (*Model, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory: %w", err)
	}
	if !info.IsDir() {
		return LoadFile(dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan schema directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	return Compile(ctx.BuildInstance(inst))
}

type entityDecl struct {
	name  string
	value cue.Value
	typ   *expr.Type
	key   []string
}

// Compile builds a Model from a CUE value holding an "entity" struct.
func Compile(v cue.Value) (*Model, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	entitiesVal := v.LookupPath(cue.ParsePath("entity"))
	if !entitiesVal.Exists() {
		return nil, &CompileError{Field: "entity", Message: "no entities declared", Pos: v.Pos()}
	}
	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	m := &Model{
		Entities: make(map[string]*expr.Type),
		Tables:   make(map[string]*expr.Type),
	}

	// Phase 1: entity types with scalar fields.
	var decls []*entityDecl
	for iter.Next() {
		d, err := compileEntity(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		if prev, dup := m.Tables[d.typ.Table]; dup {
			return nil, &CompileError{
				Field:   "entity." + d.name + ".table",
				Message: fmt.Sprintf("table %q is already mapped by %s", d.typ.Table, prev.Name),
				Pos:     d.value.Pos(),
			}
		}
		m.Entities[d.name] = d.typ
		m.Tables[d.typ.Table] = d.typ
		decls = append(decls, d)
	}

	// Phase 2: keys and navigations.
	var keys []*descriptor.PrimaryKey
	for _, d := range decls {
		key, err := keySelector(d.typ, d.key, d.value.LookupPath(cue.ParsePath("key")))
		if err != nil {
			return nil, err
		}
		keys = append(keys, &descriptor.PrimaryKey{Entity: d.typ, Key: key})
	}

	byName := make(map[string]*entityDecl, len(decls))
	for _, d := range decls {
		byName[d.name] = d
	}
	var navs []*descriptor.Navigation
	for _, d := range decls {
		ns, err := compileNavigations(d, byName)
		if err != nil {
			return nil, err
		}
		navs = append(navs, ns...)
	}

	set, err := descriptor.New(keys, navs)
	if err != nil {
		return nil, fmt.Errorf("descriptors: %w", err)
	}
	m.Descriptors = set
	return m, nil
}

func compileEntity(name string, v cue.Value) (*entityDecl, error) {
	field := "entity." + name

	table := name
	if tv := v.LookupPath(cue.ParsePath("table")); tv.Exists() {
		s, err := tv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		table = s
	}

	keyVal := v.LookupPath(cue.ParsePath("key"))
	if !keyVal.Exists() {
		return nil, &CompileError{Field: field + ".key", Message: "key is required", Pos: v.Pos()}
	}
	key, err := stringList(keyVal)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, &CompileError{Field: field + ".key", Message: "key must name at least one field", Pos: keyVal.Pos()}
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{Field: field + ".fields", Message: "fields are required", Pos: v.Pos()}
	}
	fi, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	t := expr.NewEntity(name, table)
	for fi.Next() {
		ft, err := fieldType(fi.Value())
		if err != nil {
			return nil, err
		}
		t.AddField(fi.Label(), ft)
	}
	if len(t.Fields) == 0 {
		return nil, &CompileError{Field: field + ".fields", Message: "at least one field is required", Pos: fieldsVal.Pos()}
	}

	return &entityDecl{name: name, value: v, typ: t, key: key}, nil
}

// fieldType parses a scalar type name such as "int" or "string?".
func fieldType(v cue.Value) (*expr.Type, error) {
	s, err := v.String()
	if err != nil {
		return nil, &CompileError{Field: "type", Message: "field type must be a string", Pos: v.Pos()}
	}
	nullable := strings.HasSuffix(s, "?")
	name := strings.TrimSuffix(s, "?")
	if !expr.IsScalarName(name) {
		return nil, &CompileError{Field: "type", Message: fmt.Sprintf("unknown scalar type %q", s), Pos: v.Pos()}
	}
	t := expr.ScalarOf(name)
	if nullable {
		t = expr.NullableOf(t)
	}
	return t, nil
}

func compileNavigations(d *entityDecl, byName map[string]*entityDecl) ([]*descriptor.Navigation, error) {
	navVal := d.value.LookupPath(cue.ParsePath("navigation"))
	if !navVal.Exists() {
		return nil, nil
	}
	iter, err := navVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var navs []*descriptor.Navigation
	for iter.Next() {
		member, nv := iter.Label(), iter.Value()
		field := "entity." + d.name + ".navigation." + member

		if _, exists := d.typ.Member(member); exists {
			return nil, &CompileError{Field: field, Message: "navigation name collides with a field", Pos: nv.Pos()}
		}

		targetName, err := nv.LookupPath(cue.ParsePath("target")).String()
		if err != nil {
			return nil, &CompileError{Field: field + ".target", Message: "target is required", Pos: nv.Pos()}
		}
		target, ok := byName[targetName]
		if !ok {
			return nil, &CompileError{Field: field + ".target", Message: fmt.Sprintf("unknown entity %q", targetName), Pos: nv.Pos()}
		}

		many := false
		if mv := nv.LookupPath(cue.ParsePath("many")); mv.Exists() {
			if many, err = mv.Bool(); err != nil {
				return nil, formatCUEError(err)
			}
		}

		outerVal := nv.LookupPath(cue.ParsePath("outer"))
		if !outerVal.Exists() {
			return nil, &CompileError{Field: field + ".outer", Message: "outer key is required", Pos: nv.Pos()}
		}
		outerNames, err := stringList(outerVal)
		if err != nil {
			return nil, err
		}
		outer, err := keySelector(d.typ, outerNames, outerVal)
		if err != nil {
			return nil, err
		}

		innerNames := target.key
		innerVal := nv.LookupPath(cue.ParsePath("inner"))
		if innerVal.Exists() {
			if innerNames, err = stringList(innerVal); err != nil {
				return nil, err
			}
		}
		inner, err := keySelector(target.typ, innerNames, innerVal)
		if err != nil {
			return nil, err
		}

		navs = append(navs, &descriptor.Navigation{
			Declaring: d.typ,
			Member:    member,
			Target:    target.typ,
			OuterKey:  outer,
			InnerKey:  inner,
			Many:      many,
		})
	}

	// Members are added after every descriptor of this entity is built so
	// key selectors only see scalar fields.
	for _, n := range navs {
		if n.Many {
			d.typ.AddField(n.Member, expr.SequenceOf(n.Target))
		} else {
			d.typ.AddField(n.Member, n.Target)
		}
	}
	return navs, nil
}

// keySelector builds e => e.A, or e => new { A = e.A, B = e.B } for several
// members.
func keySelector(t *expr.Type, names []string, at cue.Value) (*expr.Lambda, error) {
	p := expr.NewParam("e", t)
	args := make([]expr.Expr, len(names))
	for i, n := range names {
		m, err := expr.NewMember(p, n)
		if err != nil || !m.T.IsScalar() {
			return nil, &CompileError{
				Field:   "key",
				Message: fmt.Sprintf("%s has no scalar field %q", t.Name, n),
				Pos:     at.Pos(),
			}
		}
		args[i] = m
	}
	if len(args) == 1 {
		return expr.NewLambda(args[0], p), nil
	}
	return expr.NewLambda(expr.NewRecord(names, args, false), p), nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
