package snippet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/harun/kitool/pkg/tabular"
	"github.com/harun/kitool/pkg/workspace"
)

type jsFunc = func(goja.FunctionCall) goja.Value

// namespace is the per-call set of host capabilities visible to a snippet.
type namespace struct {
	ctx context.Context
	vm  *goja.Runtime
	ws  *workspace.Workspace
	out *output

	frames    map[*goja.Object]*tabular.Handle
	stringify goja.Callable
	parse     goja.Callable
	date      goja.Value
}

func (ns *namespace) install() error {
	ns.frames = make(map[*goja.Object]*tabular.Handle)

	builtinJSON := ns.vm.Get("JSON").ToObject(ns.vm)
	var ok bool
	if ns.stringify, ok = goja.AssertFunction(builtinJSON.Get("stringify")); !ok {
		return errors.New("JSON.stringify is unavailable")
	}
	if ns.parse, ok = goja.AssertFunction(builtinJSON.Get("parse")); !ok {
		return errors.New("JSON.parse is unavailable")
	}
	ns.date = ns.vm.Get("Date")

	globals := map[string]interface{}{
		"print":   jsFunc(ns.print),
		"console": ns.object(map[string]jsFunc{"log": ns.print}),
		"xl": ns.object(map[string]jsFunc{
			"load":     ns.xlLoad,
			"sheets":   ns.xlSheets,
			"describe": ns.xlDescribe,
			"groupby":  ns.xlGroupby,
			"toCSV":    ns.xlToCSV,
		}),
		"json": ns.object(map[string]jsFunc{
			"dumps": ns.jsonDumps,
			"loads": ns.jsonLoads,
		}),
		"path": ns.object(map[string]jsFunc{
			"join":   ns.pathJoin,
			"base":   ns.pathUnary(filepath.Base),
			"dir":    ns.pathUnary(filepath.Dir),
			"ext":    ns.pathUnary(filepath.Ext),
			"abs":    ns.pathAbs,
			"exists": ns.pathExists,
			"cwd":    ns.pathCwd,
		}),
	}
	for name, value := range globals {
		if err := ns.vm.Set(name, value); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
	}
	return nil
}

func (ns *namespace) object(fns map[string]jsFunc) *goja.Object {
	obj := ns.vm.NewObject()
	for name, fn := range fns {
		_ = obj.Set(name, fn)
	}
	return obj
}

// throw raises err as a catchable JavaScript error.
func (ns *namespace) throw(err error) {
	panic(ns.vm.NewGoError(err))
}

func (ns *namespace) stringArg(fc goja.FunctionCall, i int, name string) string {
	v := fc.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		panic(ns.vm.NewTypeError("%s is required", name))
	}
	return v.String()
}

func (ns *namespace) optionalStringArg(fc goja.FunctionCall, i int) string {
	v := fc.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func (ns *namespace) intArg(fc goja.FunctionCall, i int, fallback int) int {
	v := fc.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return fallback
	}
	return int(v.ToInteger())
}

// print writes its arguments separated by spaces, then a newline.
func (ns *namespace) print(fc goja.FunctionCall) goja.Value {
	parts := make([]string, len(fc.Arguments))
	for i, arg := range fc.Arguments {
		parts[i] = ns.format(arg)
	}
	if !ns.out.write(strings.Join(parts, " ") + "\n") {
		ns.vm.Interrupt(ErrOutputLimit)
	}
	return goja.Undefined()
}

func (ns *namespace) format(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if h, ok := ns.frames[obj]; ok {
		return tabular.Markdown(h)
	}
	switch obj.ClassName() {
	case "Function", "Error", "Date", "RegExp":
		return obj.String()
	}
	s, err := ns.stringify(goja.Undefined(), obj)
	if err != nil || goja.IsUndefined(s) {
		return obj.String()
	}
	return s.String()
}

// toValue converts a cell value into its JavaScript counterpart.
func (ns *namespace) toValue(v any) goja.Value {
	switch x := v.(type) {
	case nil:
		return goja.Null()
	case time.Time:
		d, err := ns.vm.New(ns.date, ns.vm.ToValue(x.UnixMilli()))
		if err != nil {
			return ns.vm.ToValue(x.Format(time.RFC3339))
		}
		return d
	default:
		return ns.vm.ToValue(x)
	}
}

func (ns *namespace) stringArray(items []string) *goja.Object {
	values := make([]interface{}, len(items))
	for i, s := range items {
		values[i] = s
	}
	return ns.vm.NewArray(values...)
}

// frame exposes a loaded sheet to JavaScript.
func (ns *namespace) frame(h *tabular.Handle) *goja.Object {
	obj := ns.vm.NewObject()
	_ = obj.Set("path", h.Path)
	_ = obj.Set("sheet", h.Sheet)
	_ = obj.Set("rows", h.Rows())
	_ = obj.Set("columns", ns.stringArray(h.ColumnNames()))

	dtypes := ns.vm.NewObject()
	for _, c := range h.Columns {
		_ = dtypes.Set(c.Name, string(c.DType))
	}
	_ = obj.Set("dtypes", dtypes)

	methods := map[string]jsFunc{
		"column": func(fc goja.FunctionCall) goja.Value {
			c, err := h.Column(ns.stringArg(fc, 0, "column"))
			if err != nil {
				ns.throw(err)
			}
			values := make([]interface{}, len(c.Values))
			for i, v := range c.Values {
				values[i] = ns.toValue(v)
			}
			return ns.vm.NewArray(values...)
		},
		"records": func(goja.FunctionCall) goja.Value {
			rows := make([]interface{}, h.Rows())
			for r := range rows {
				rec := ns.vm.NewObject()
				for _, c := range h.Columns {
					_ = rec.Set(c.Name, ns.toValue(c.Values[r]))
				}
				rows[r] = rec
			}
			return ns.vm.NewArray(rows...)
		},
		"head": func(fc goja.FunctionCall) goja.Value {
			return ns.frame(h.Head(ns.intArg(fc, 0, tabular.DefaultHead)))
		},
		"markdown": func(goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(tabular.Markdown(h))
		},
		"toString": func(goja.FunctionCall) goja.Value {
			return ns.vm.ToValue(tabular.Markdown(h))
		},
		"describe": func(fc goja.FunctionCall) goja.Value {
			return ns.describe(h, ns.intArg(fc, 0, tabular.DefaultHead))
		},
		"groupby": func(fc goja.FunctionCall) goja.Value {
			return ns.groupby(h, fc.Argument(0), fc.Argument(1), fc.Argument(2))
		},
		"toCSV": func(fc goja.FunctionCall) goja.Value {
			return ns.toCSV(h, ns.stringArg(fc, 0, "out"))
		},
	}
	for name, fn := range methods {
		_ = obj.Set(name, fn)
	}

	ns.frames[obj] = h
	return obj
}

// handleArg accepts a frame or a path to load with its first sheet.
func (ns *namespace) handleArg(v goja.Value) *tabular.Handle {
	if obj, ok := v.(*goja.Object); ok {
		if h, ok := ns.frames[obj]; ok {
			return h
		}
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		panic(ns.vm.NewTypeError("a frame or spreadsheet path is required"))
	}
	return ns.load(v.String(), "")
}

func (ns *namespace) load(p, sheet string) *tabular.Handle {
	target, err := ns.ws.Resolve(ns.ctx, p)
	if err != nil {
		ns.throw(err)
	}
	h, err := tabular.Load(target, sheet)
	if err != nil {
		ns.throw(err)
	}
	return h
}

func (ns *namespace) xlLoad(fc goja.FunctionCall) goja.Value {
	return ns.frame(ns.load(ns.stringArg(fc, 0, "path"), ns.optionalStringArg(fc, 1)))
}

func (ns *namespace) xlSheets(fc goja.FunctionCall) goja.Value {
	target, err := ns.ws.Resolve(ns.ctx, ns.stringArg(fc, 0, "path"))
	if err != nil {
		ns.throw(err)
	}
	names, err := tabular.Sheets(target)
	if err != nil {
		ns.throw(err)
	}
	return ns.stringArray(names)
}

func (ns *namespace) xlDescribe(fc goja.FunctionCall) goja.Value {
	return ns.describe(ns.handleArg(fc.Argument(0)), ns.intArg(fc, 1, tabular.DefaultHead))
}

func (ns *namespace) xlGroupby(fc goja.FunctionCall) goja.Value {
	return ns.groupby(ns.handleArg(fc.Argument(0)), fc.Argument(1), fc.Argument(2), fc.Argument(3))
}

func (ns *namespace) xlToCSV(fc goja.FunctionCall) goja.Value {
	return ns.toCSV(ns.handleArg(fc.Argument(0)), ns.stringArg(fc, 1, "out"))
}

// describe returns the structure summary as a plain object.
func (ns *namespace) describe(h *tabular.Handle, head int) goja.Value {
	d, err := tabular.Describe(h, head)
	if err != nil {
		ns.throw(err)
	}
	text, err := d.JSON()
	if err != nil {
		ns.throw(err)
	}
	v, err := ns.parse(goja.Undefined(), ns.vm.ToValue(text))
	if err != nil {
		ns.throw(err)
	}
	return v
}

func (ns *namespace) groupby(h *tabular.Handle, byArg, valueArg, aggArg goja.Value) goja.Value {
	var by []string
	switch x := byArg.Export().(type) {
	case string:
		by = []string{x}
	case []interface{}:
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				panic(ns.vm.NewTypeError("group-by columns must be strings"))
			}
			by = append(by, s)
		}
	default:
		panic(ns.vm.NewTypeError("by must be a column name or a list of column names"))
	}
	if goja.IsUndefined(valueArg) || goja.IsNull(valueArg) {
		panic(ns.vm.NewTypeError("value is required"))
	}

	aggName := string(tabular.AggSum)
	if !goja.IsUndefined(aggArg) && !goja.IsNull(aggArg) {
		aggName = aggArg.String()
	}
	agg, err := tabular.ParseAggregation(aggName)
	if err != nil {
		ns.throw(err)
	}

	out, err := tabular.GroupAggregate(h, by, valueArg.String(), agg)
	if err != nil {
		ns.throw(err)
	}
	return ns.frame(out)
}

func (ns *namespace) toCSV(h *tabular.Handle, out string) goja.Value {
	target, err := ns.ws.Resolve(ns.ctx, out)
	if err != nil {
		ns.throw(err)
	}
	if err := tabular.ExportCSV(h, target); err != nil {
		ns.throw(err)
	}
	return ns.vm.ToValue(target)
}

func (ns *namespace) jsonDumps(fc goja.FunctionCall) goja.Value {
	args := []goja.Value{fc.Argument(0)}
	if indent := fc.Argument(1); !goja.IsUndefined(indent) {
		args = append(args, goja.Null(), indent)
	}
	v, err := ns.stringify(goja.Undefined(), args...)
	if err != nil {
		panic(err)
	}
	return v
}

func (ns *namespace) jsonLoads(fc goja.FunctionCall) goja.Value {
	v, err := ns.parse(goja.Undefined(), ns.vm.ToValue(ns.stringArg(fc, 0, "text")))
	if err != nil {
		panic(err)
	}
	return v
}

func (ns *namespace) pathJoin(fc goja.FunctionCall) goja.Value {
	parts := make([]string, len(fc.Arguments))
	for i, arg := range fc.Arguments {
		parts[i] = arg.String()
	}
	return ns.vm.ToValue(filepath.Join(parts...))
}

func (ns *namespace) pathUnary(fn func(string) string) jsFunc {
	return func(fc goja.FunctionCall) goja.Value {
		return ns.vm.ToValue(fn(ns.stringArg(fc, 0, "path")))
	}
}

func (ns *namespace) pathAbs(fc goja.FunctionCall) goja.Value {
	target, err := ns.ws.Resolve(ns.ctx, ns.stringArg(fc, 0, "path"))
	if err != nil {
		ns.throw(err)
	}
	return ns.vm.ToValue(target)
}

func (ns *namespace) pathExists(fc goja.FunctionCall) goja.Value {
	target, err := ns.ws.Resolve(ns.ctx, ns.stringArg(fc, 0, "path"))
	if err != nil {
		ns.throw(err)
	}
	_, err = os.Stat(target)
	return ns.vm.ToValue(err == nil)
}

func (ns *namespace) pathCwd(goja.FunctionCall) goja.Value {
	return ns.vm.ToValue(ns.ws.Root(ns.ctx))
}
