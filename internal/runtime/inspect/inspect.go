package inspect

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/drblury/glue/internal/runtime/jsoncodec"
)

const (
	CircularMarker       = "[Circular reference]"
	UnserializableMarker = "[Unserializable value]"
)

// Format renders args separated by a single space. Top-level strings are
// passed through unquoted; every other argument follows the package rules.
// All arguments share one cycle detection stack.
func Format(args ...any) string {
	p := &printer{}
	parts := make([]string, len(args))
	for i, arg := range args {
		if s, ok := arg.(string); ok {
			parts[i] = s
			continue
		}
		parts[i] = p.value(arg)
	}
	return strings.Join(parts, " ")
}

// Line is Format terminated by a newline.
func Line(args ...any) string {
	return Format(args...) + "\n"
}

// Value renders a single value. Strings are returned unquoted.
func Value(v any) string {
	return Format(v)
}

type printer struct {
	stack []uintptr
}

func (p *printer) push(ptr uintptr) bool {
	for _, seen := range p.stack {
		if seen == ptr {
			return false
		}
	}
	p.stack = append(p.stack, ptr)
	return true
}

func (p *printer) pop() {
	p.stack = p.stack[:len(p.stack)-1]
}

func (p *printer) value(v any) string {
	if isNil(v) {
		return "null"
	}

	switch x := v.(type) {
	case undefinedValue:
		return "undefined"
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case *big.Int:
		return x.String() + "n"
	case big.Int:
		return x.String() + "n"
	case *Map:
		return p.mapValue(x)
	case *Set:
		return p.setValue(x)
	case error:
		return fmt.Sprintf("%+v", x)
	case fmt.Stringer:
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return formatFloat(rv.Float(), 32)
	case reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v)
	case reflect.Func:
		return funcValue(rv)
	case reflect.Map:
		if isSetMap(rv.Type()) {
			return p.goSetValue(rv)
		}
	case reflect.Chan, reflect.UnsafePointer:
		return UnserializableMarker
	}

	return structural(v)
}

func (p *printer) mapValue(m *Map) string {
	if !p.push(reflect.ValueOf(m).Pointer()) {
		return CircularMarker
	}
	defer p.pop()

	if m.Len() == 0 {
		return "Map(0) {}"
	}
	parts := make([]string, len(m.entries))
	for i, e := range m.entries {
		parts[i] = p.value(e.key) + " => " + p.value(e.value)
	}
	return fmt.Sprintf("Map(%d) { %s }", m.Len(), strings.Join(parts, ", "))
}

func (p *printer) setValue(s *Set) string {
	if !p.push(reflect.ValueOf(s).Pointer()) {
		return CircularMarker
	}
	defer p.pop()

	parts := make([]string, len(s.elems))
	for i, e := range s.elems {
		parts[i] = p.value(e)
	}
	return setText(parts)
}

func (p *printer) goSetValue(rv reflect.Value) string {
	parts := make([]string, 0, rv.Len())
	for _, key := range rv.MapKeys() {
		parts = append(parts, p.value(key.Interface()))
	}
	sort.Strings(parts)
	return setText(parts)
}

func setText(parts []string) string {
	if len(parts) == 0 {
		return "Set(0) {}"
	}
	return fmt.Sprintf("Set(%d) { %s }", len(parts), strings.Join(parts, ", "))
}

func isSetMap(t reflect.Type) bool {
	elem := t.Elem()
	return elem.Kind() == reflect.Struct && elem.NumField() == 0
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs >= 1e21 || abs < 1e-6) {
		return strconv.FormatFloat(f, 'g', -1, bits)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

func funcValue(rv reflect.Value) string {
	fn := runtime.FuncForPC(rv.Pointer())
	if fn == nil {
		return "[Function (anonymous)]"
	}
	name := shortFuncName(fn.Name())
	if name == "" {
		return "[Function (anonymous)]"
	}
	return "[Function: " + name + "]"
}

// shortFuncName strips the import path and package qualifier from a runtime
// function name. Closures (pkg.outer.func1, pkg.glob..func1) yield "".
func shortFuncName(full string) string {
	name := full
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "["); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, "-fm")

	last := name
	if i := strings.LastIndex(name, "."); i >= 0 {
		last = name[i+1:]
	}
	if isClosureSegment(last) {
		return ""
	}
	return name
}

func isClosureSegment(s string) bool {
	if !strings.HasPrefix(s, "func") || len(s) == len("func") {
		return false
	}
	for _, r := range s[len("func"):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func structural(v any) (out string) {
	if hasCycle(reflect.ValueOf(v), nil) {
		return UnserializableMarker
	}
	defer func() {
		if recover() != nil {
			out = UnserializableMarker
		}
	}()
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return UnserializableMarker
	}
	return string(data)
}

// hasCycle walks rv depth first and reports whether any reference container
// is reachable from itself.
func hasCycle(rv reflect.Value, path []uintptr) bool {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return false
		}
		return hasCycle(rv.Elem(), path)
	case reflect.Ptr, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return false
		}
		if rv.Kind() == reflect.Slice && rv.Len() == 0 {
			return false
		}
		ptr := rv.Pointer()
		for _, seen := range path {
			if seen == ptr {
				return true
			}
		}
		path = append(path, ptr)
		switch rv.Kind() {
		case reflect.Ptr:
			return hasCycle(rv.Elem(), path)
		case reflect.Map:
			iter := rv.MapRange()
			for iter.Next() {
				if hasCycle(iter.Value(), path) {
					return true
				}
			}
			return false
		default:
			for i := 0; i < rv.Len(); i++ {
				if hasCycle(rv.Index(i), path) {
					return true
				}
			}
			return false
		}
	case reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if hasCycle(rv.Index(i), path) {
				return true
			}
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if hasCycle(rv.Field(i), path) {
				return true
			}
		}
	}
	return false
}
