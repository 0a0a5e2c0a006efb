package schema

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/syncable"
)

//go:embed entity.cue
var entitySchema string

// Error reports an invalid entity declaration.
type Error struct {
	Entity  string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Entity != "" {
		msg = "entity " + e.Entity + ": " + msg
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), msg)
	}
	return msg
}

// LoadDir loads every entity declared under the `entity` field of the CUE
// package in dir.
func LoadDir(dir string, opts ...syncable.RegistryOption) (*syncable.Registry, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema dir: not a directory: %s", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("schema dir: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("schema dir: no CUE files in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("schema dir: no CUE instances loaded")
	}
	if err := instances[0].Err; err != nil {
		return nil, fmt.Errorf("load CUE files: %w", formatCUEError(err))
	}

	value := ctx.BuildInstance(instances[0])
	return build(ctx, value, opts...)
}

// LoadString loads entity declarations from CUE source.
func LoadString(src, filename string, opts ...syncable.RegistryOption) (*syncable.Registry, error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(src, cue.Filename(filename))
	return build(ctx, value, opts...)
}

// Load reads a schema from a directory or a single .cue file.
func Load(path string, opts ...syncable.RegistryOption) (*syncable.Registry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	if info.IsDir() {
		return LoadDir(path, opts...)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return LoadString(string(src), path, opts...)
}

func build(ctx *cue.Context, value cue.Value, opts ...syncable.RegistryOption) (*syncable.Registry, error) {
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	types, err := Compile(ctx, value)
	if err != nil {
		return nil, err
	}

	reg := syncable.NewRegistry(opts...)
	for _, t := range types {
		if err := reg.Register(t); err != nil {
			return nil, &Error{Entity: t.Name, Message: err.Error()}
		}
	}
	return reg, nil
}

// Compile extracts entity types from a CUE value with an `entity` struct.
// Each declaration is unified with the #Entity schema first, so unknown
// fields and bad values are rejected with their source position.
func Compile(ctx *cue.Context, value cue.Value) ([]*syncable.EntityType, error) {
	def := ctx.CompileString(entitySchema, cue.Filename("entity.cue")).LookupPath(cue.ParsePath("#Entity"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("entity schema: %w", err)
	}

	entities := value.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return nil, &Error{Message: "no entity declarations found", Pos: value.Pos()}
	}

	iter, err := entities.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var types []*syncable.EntityType
	for iter.Next() {
		name := iter.Selector().Unquoted()
		if err := checkFields(name, iter.Value()); err != nil {
			return nil, err
		}
		t, err := compileEntity(name, def.Unify(iter.Value()))
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func compileEntity(name string, v cue.Value) (*syncable.EntityType, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, entityError(name, err)
	}

	t := &syncable.EntityType{Name: name}

	var err error
	if t.PrimaryKey, err = lookupString(v, "primaryKey"); err != nil {
		return nil, entityError(name, err)
	}
	if t.Keys, err = lookupStrings(v, "keys"); err != nil {
		return nil, entityError(name, err)
	}
	if t.Relationships, err = lookupStringMap(v, "relationships"); err != nil {
		return nil, entityError(name, err)
	}
	if t.Metadata, err = lookupStringMap(v, "metadata"); err != nil {
		return nil, entityError(name, err)
	}
	if t.Syncable, err = lookup(v, "syncable").Bool(); err != nil {
		return nil, entityError(name, err)
	}
	if t.NameField, err = lookupOptionalString(v, "nameField"); err != nil {
		return nil, entityError(name, err)
	}
	if t.EnabledField, err = lookupOptionalString(v, "enabledField"); err != nil {
		return nil, entityError(name, err)
	}

	resolution, err := lookupString(v, "resolution")
	if err != nil {
		return nil, entityError(name, err)
	}
	if t.Resolution, err = record.ParseConflictResolution(resolution); err != nil {
		return nil, &Error{Entity: name, Field: "resolution", Message: err.Error(), Pos: v.Pos()}
	}

	files, err := lookup(v, "files").List()
	if err != nil {
		return nil, entityError(name, err)
	}
	for files.Next() {
		fv := files.Value()
		var f syncable.FileField
		if f.Identifier, err = lookupString(fv, "identifier"); err != nil {
			return nil, entityError(name, err)
		}
		if f.Field, err = lookupString(fv, "field"); err != nil {
			return nil, entityError(name, err)
		}
		t.Files = append(t.Files, f)
	}

	if err := t.Validate(); err != nil {
		return nil, &Error{Entity: name, Message: err.Error(), Pos: v.Pos()}
	}
	return t, nil
}

var entityFields = map[string]bool{
	"primaryKey":    true,
	"keys":          true,
	"files":         true,
	"relationships": true,
	"syncable":      true,
	"nameField":     true,
	"enabledField":  true,
	"metadata":      true,
	"resolution":    true,
}

// checkFields rejects fields #Entity does not declare.
func checkFields(name string, v cue.Value) error {
	iter, err := v.Fields(cue.Optional(true))
	if err != nil {
		return entityError(name, err)
	}
	for iter.Next() {
		field := iter.Selector().Unquoted()
		if !entityFields[field] {
			return &Error{Entity: name, Field: field, Message: "field not allowed", Pos: iter.Value().Pos()}
		}
	}
	return nil
}

func lookup(v cue.Value, path string) cue.Value {
	fv, _ := v.LookupPath(cue.ParsePath(path)).Default()
	return fv
}

func lookupString(v cue.Value, path string) (string, error) {
	return lookup(v, path).String()
}

func lookupOptionalString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", nil
	}
	return fv.String()
}

func lookupStrings(v cue.Value, path string) ([]string, error) {
	iter, err := lookup(v, path).List()
	if err != nil {
		return nil, err
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func lookupStringMap(v cue.Value, path string) (map[string]string, error) {
	iter, err := lookup(v, path).Fields()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, err
		}
		out[iter.Selector().Unquoted()] = s
	}
	return out, nil
}

func entityError(name string, err error) error {
	formatted := formatCUEError(err)
	if se, ok := formatted.(*Error); ok {
		se.Entity = name
		return se
	}
	return &Error{Entity: name, Message: err.Error()}
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
	positions := errors.Positions(first)
	// Prefer positions in user files over the embedded schema.
	sort.SliceStable(positions, func(i, j int) bool {
		return positions[i].Filename() != "entity.cue" && positions[j].Filename() == "entity.cue"
	})
	if len(positions) > 0 {
		return &Error{Message: first.Error(), Pos: positions[0]}
	}
	return err
}
