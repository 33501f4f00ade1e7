package chainexport

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// RenameTable maps raw payload keys to the record field names they populate,
// e.g. "block_hash" -> "hash".
type RenameTable map[string]string

// Projection is a read-only view of a JSON object addressed by record field
// names. Renames are applied before lookup, so a renamed field is read from
// its source key and any raw key sharing the output name is ignored. Keys not
// asked for are never read, which makes a transformer a narrowing projection.
type Projection struct {
	raw    gjson.Result
	source map[string]string
	path   string
}

// Project builds a Projection over raw. raw must be a JSON object.
func Project(raw gjson.Result, renames RenameTable) (Projection, error) {
	return project(raw, renames, "")
}

func project(raw gjson.Result, renames RenameTable, path string) (Projection, error) {
	if !raw.IsObject() {
		return Projection{}, NewMalformedInputError(path, "is not a JSON object", nil)
	}

	var source map[string]string
	if len(renames) > 0 {
		source = make(map[string]string, len(renames))
		for from, to := range renames {
			source[to] = from
		}
	}
	return Projection{raw: raw, source: source, path: path}, nil
}

// Raw returns the raw value backing field.
func (p Projection) Raw(field string) gjson.Result {
	key := field
	if from, ok := p.source[field]; ok {
		key = from
	}
	return p.raw.Get(escapeKey(key))
}

// Has reports whether field is present and not null.
func (p Projection) Has(field string) bool {
	v := p.Raw(field)
	return v.Exists() && v.Type != gjson.Null
}

// Path returns the dotted path of field from the payload root.
func (p Projection) Path(field string) string {
	if p.path == "" {
		return field
	}
	return p.path + "." + field
}

// RequireInt reads a required integer field. Zero is a valid value.
func (p Projection) RequireInt(field string) (int64, error) {
	n, err := RequireInt(p.Raw(field))
	return n, p.annotate(field, err)
}

// RequireUint reads a required unsigned integer field.
func (p Projection) RequireUint(field string) (uint64, error) {
	n, err := RequireUint(p.Raw(field))
	return n, p.annotate(field, err)
}

// OptionalInt reads an optional integer field with ToOptionalInt semantics.
func (p Projection) OptionalInt(field string) (*int64, error) {
	n, err := ToOptionalInt(p.Raw(field))
	return n, p.annotate(field, err)
}

// RequireString reads a required scalar field as a string. Numbers are
// accepted in their canonical form; objects and arrays are rejected.
func (p Projection) RequireString(field string) (string, error) {
	v := p.Raw(field)
	if !v.Exists() || v.Type == gjson.Null {
		return "", p.annotate(field, NewMalformedInputError("", "is required", nil))
	}
	if v.Type == gjson.JSON {
		return "", p.annotate(field, NewMalformedInputError("", "is not a string", nil))
	}
	return ToCanonicalString(v), nil
}

// RequireCanonical reads a required field of any JSON type in canonical
// string form. Only absence fails; an explicit null becomes "null".
func (p Projection) RequireCanonical(field string) (string, error) {
	v := p.Raw(field)
	if !v.Exists() {
		return "", p.annotate(field, NewMalformedInputError("", "is required", nil))
	}
	return ToCanonicalString(v), nil
}

// OptionalString reads an optional field in canonical string form. Missing
// and null fields are absent.
func (p Projection) OptionalString(field string) *string {
	v := p.Raw(field)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	s := ToCanonicalString(v)
	return &s
}

// RequireBool reads a required boolean field. The strings "true" and
// "false" are accepted.
func (p Projection) RequireBool(field string) (bool, error) {
	v := p.Raw(field)
	if !v.Exists() || v.Type == gjson.Null {
		return false, p.annotate(field, NewMalformedInputError("", "is required", nil))
	}
	b, err := parseBool(v)
	return b, p.annotate(field, err)
}

// OptionalBool reads an optional boolean field.
func (p Projection) OptionalBool(field string) (*bool, error) {
	v := p.Raw(field)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	b, err := parseBool(v)
	if err != nil {
		return nil, p.annotate(field, err)
	}
	return &b, nil
}

// Strings reads an optional array field, canonicalizing every element.
func (p Projection) Strings(field string) ([]string, error) {
	v := p.Raw(field)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, p.annotate(field, NewMalformedInputError("", "is not an array", nil))
	}

	items := v.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, ToCanonicalString(item))
	}
	return out, nil
}

// Ints reads an optional array of integers.
func (p Projection) Ints(field string) ([]int64, error) {
	v := p.Raw(field)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, p.annotate(field, NewMalformedInputError("", "is not an array", nil))
	}

	items := v.Array()
	out := make([]int64, 0, len(items))
	for i, item := range items {
		n, err := RequireInt(item)
		if err != nil {
			return nil, p.annotate(field+"."+strconv.Itoa(i), err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Object returns a Projection over a nested object field. ok is false when
// the field is missing or null.
func (p Projection) Object(field string, renames RenameTable) (sub Projection, ok bool, err error) {
	v := p.Raw(field)
	if !v.Exists() || v.Type == gjson.Null {
		return Projection{}, false, nil
	}
	sub, err = project(v, renames, p.Path(field))
	if err != nil {
		return Projection{}, false, err
	}
	return sub, true, nil
}

// Objects returns Projections over every element of an array of objects.
// A missing or null field yields nil.
func (p Projection) Objects(field string) ([]Projection, error) {
	v := p.Raw(field)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, p.annotate(field, NewMalformedInputError("", "is not an array", nil))
	}

	items := v.Array()
	out := make([]Projection, 0, len(items))
	for i, item := range items {
		sub, err := project(item, nil, p.Path(field+"."+strconv.Itoa(i)))
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// annotate fills in the field path of a MalformedInputError produced by the
// coercion helpers.
func (p Projection) annotate(field string, err error) error {
	if err == nil {
		return nil
	}
	var malformed *MalformedInputError
	if errors.As(err, &malformed) && malformed.Field == "" {
		malformed.Field = p.Path(field)
		return malformed
	}
	return err
}

var keyEscaper = strings.NewReplacer(
	`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`,
)

func escapeKey(key string) string {
	return keyEscaper.Replace(key)
}
