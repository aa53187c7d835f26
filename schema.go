package voxdex

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/kailas-cloud/voxdex/internal/domain/entity"
	"github.com/kailas-cloud/voxdex/internal/domain/entity/schema"
)

const tagKey = "voxdex"

// schemaMeta holds parsed struct tag metadata, cached per TypedIndex.
type schemaMeta struct {
	typ reflect.Type // struct type for reconstruction

	// Field index in the struct for each role.
	idIdx   int
	textIdx int

	// Mapping from struct field index to attribute declaration.
	numerics []numericMapping
	tags     []fieldMapping
}

type fieldMapping struct {
	structIdx int
	name      string
}

type numericMapping struct {
	structIdx int
	attr      schema.Numeric
}

// parseSchema reflects on T and extracts voxdex struct tag metadata.
func parseSchema[T any]() (*schemaMeta, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("voxdex: type %s is not a struct", t)
	}

	meta := &schemaMeta{typ: t, idIdx: -1, textIdx: -1}

	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get(tagKey)
		if tag == "" || tag == "-" {
			continue
		}
		if err := applyTag(meta, i, f, tag); err != nil {
			return nil, err
		}
	}

	return validateMeta(meta, t)
}

// applyTag processes a single struct field's voxdex tag.
// Grammar: `voxdex:"name,modifier"` with modifiers id, text and tag, plus
// `voxdex:"name,numeric,min:max,asc|desc"` for scored numeric attributes.
func applyTag(meta *schemaMeta, idx int, f reflect.StructField, tag string) error {
	parts := strings.Split(tag, ",")
	name := parts[0]
	modifier := ""
	if len(parts) > 1 {
		modifier = parts[1]
	}

	switch modifier {
	case "id":
		if meta.idIdx != -1 {
			return fmt.Errorf("voxdex: duplicate id tag on field %s", f.Name)
		}
		if f.Type.Kind() != reflect.String {
			return fmt.Errorf("voxdex: id field %s must be a string", f.Name)
		}
		meta.idIdx = idx
	case "text":
		if meta.textIdx != -1 {
			return fmt.Errorf("voxdex: duplicate text tag on field %s", f.Name)
		}
		if f.Type.Kind() != reflect.String {
			return fmt.Errorf("voxdex: text field %s must be a string", f.Name)
		}
		meta.textIdx = idx
	case "tag":
		if f.Type.Kind() != reflect.String {
			return fmt.Errorf("voxdex: tag field %s must be a string", f.Name)
		}
		meta.tags = append(meta.tags, fieldMapping{structIdx: idx, name: name})
	case "numeric":
		attr, err := parseNumericTag(name, parts[2:])
		if err != nil {
			return fmt.Errorf("voxdex: field %s: %w", f.Name, err)
		}
		meta.numerics = append(meta.numerics, numericMapping{structIdx: idx, attr: attr})
	default:
		return fmt.Errorf("voxdex: unknown modifier %q on field %s", modifier, f.Name)
	}
	return nil
}

// parseNumericTag parses the min:max bounds and the scoring direction. Both
// are required; normalization needs the declared range.
func parseNumericTag(name string, args []string) (schema.Numeric, error) {
	if len(args) != 2 {
		return schema.Numeric{}, fmt.Errorf(
			"numeric attribute %q needs bounds and a direction, e.g. `price,numeric,50:5000,desc`", name)
	}

	lo, hi, ok := strings.Cut(args[0], ":")
	if !ok {
		return schema.Numeric{}, fmt.Errorf("numeric attribute %q: bounds %q must be min:max", name, args[0])
	}
	minVal, err := strconv.ParseFloat(lo, 64)
	if err != nil {
		return schema.Numeric{}, fmt.Errorf("numeric attribute %q: bad lower bound %q", name, lo)
	}
	maxVal, err := strconv.ParseFloat(hi, 64)
	if err != nil {
		return schema.Numeric{}, fmt.Errorf("numeric attribute %q: bad upper bound %q", name, hi)
	}

	var mode schema.Mode
	switch args[1] {
	case "asc", "ascending":
		mode = schema.Ascending
	case "desc", "descending":
		mode = schema.Descending
	default:
		return schema.Numeric{}, fmt.Errorf("numeric attribute %q: direction %q must be asc or desc", name, args[1])
	}

	return schema.NewNumeric(name, minVal, maxVal, mode)
}

func validateMeta(meta *schemaMeta, t reflect.Type) (*schemaMeta, error) {
	if meta.idIdx == -1 {
		return nil, fmt.Errorf("voxdex: no field with `voxdex:\"...,id\"` tag in %s", t)
	}
	if meta.textIdx == -1 {
		return nil, fmt.Errorf("voxdex: no field with `voxdex:\"...,text\"` tag in %s", t)
	}
	return meta, nil
}

// schema builds the attribute schema declared by the struct tags.
func (m *schemaMeta) schema() (schema.Schema, error) {
	numerics := make([]schema.Numeric, len(m.numerics))
	for i, nm := range m.numerics {
		numerics[i] = nm.attr
	}
	tags := make([]string, len(m.tags))
	for i, tf := range m.tags {
		tags[i] = tf.name
	}
	return schema.New(numerics, tags)
}

// toEntity converts a typed item to a validated entity (no vector yet).
func (m *schemaMeta) toEntity(item any) (entity.Entity, error) {
	v := reflect.ValueOf(item)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}

	numerics := make(map[string]float64, len(m.numerics))
	for _, nm := range m.numerics {
		numerics[nm.attr.Name()] = toFloat64(v.Field(nm.structIdx))
	}
	categoricals := make(map[string]string, len(m.tags))
	for _, tf := range m.tags {
		categoricals[tf.name] = v.Field(tf.structIdx).String()
	}

	return entity.New(v.Field(m.idIdx).String(), v.Field(m.textIdx).String(), numerics, categoricals)
}

// fromFields converts stored attribute values back to a typed item.
func (m *schemaMeta) fromFields(
	id, description string, numerics map[string]float64, categoricals map[string]string,
) any {
	v := reflect.New(m.typ).Elem()

	v.Field(m.idIdx).SetString(id)
	v.Field(m.textIdx).SetString(description)
	for _, tf := range m.tags {
		if val, ok := categoricals[tf.name]; ok {
			v.Field(tf.structIdx).SetString(val)
		}
	}
	for _, nm := range m.numerics {
		if val, ok := numerics[nm.attr.Name()]; ok {
			setFloat(v.Field(nm.structIdx), val)
		}
	}
	return v.Interface()
}

func toFloat64(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	default:
		return 0
	}
}

func setFloat(v reflect.Value, f float64) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		v.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(int64(f))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.SetUint(uint64(f))
	}
}
