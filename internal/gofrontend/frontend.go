// Package gofrontend builds a program model from Go packages so that call
// graph construction and coverage tracking can run on Go code.
//
// The mapping is:
//   - each package is a class holding its functions, their closures and the
//     package initializer "init()", which acts as static initializer;
//   - each non-generic named type is a concrete class whose methods are the
//     method set of its pointer type, promoted methods included;
//   - each interface is an interface class, implemented by every concrete
//     class whose pointer type satisfies it;
//   - calls through an interface are dispatched call sites, calls with a
//     static callee are direct call sites. Calls of function values, calls
//     on type parameters and builtins are not modelled.
//
// Go has neither constructors nor finalizers, so only the static
// initializer convention is set.
package gofrontend

import (
	"context"
	"fmt"
	"go/types"
	"log/slog"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/715d/chacov/pkg/program"
)

// InitSig is the signature of a package initializer.
const InitSig = "init()"

// Conventions are the implicit-call conventions of Go programs.
var Conventions = program.Conventions{StaticInit: InitSig}

// Options configures a conversion.
type Options struct {
	// Entry names the entry function as "pkgpath.Func". By default it is
	// main of the first application package named main.
	Entry string

	// IsLibrary classifies packages. Defaults to IsLibraryPackage.
	IsLibrary func(*packages.Package) bool
}

// Converter turns an SSA program into a program model.
type Converter struct {
	prog  *ssa.Program
	pkgs  []*ssa.Package
	names *NameCache
	opts  Options

	// source maps import paths to the loaded packages, dependencies
	// included.
	source map[string]*packages.Package

	// index maps every declared function to the model method standing for
	// it.
	index map[*ssa.Function]program.MethodRef

	classes []*classInfo
	byName  map[string]*classInfo

	// bodies lists the functions to scan, in declaration order.
	bodies []body

	dropped atomic.Int64
}

type classInfo struct {
	class *program.Class

	// typ is the named type of a concrete class, nil for packages.
	typ types.Type

	// iface is the method set of an interface class.
	iface *types.Interface
}

type body struct {
	fn     *ssa.Function
	method *program.Method
}

// scanResult is what scanning one body produces.
type scanResult struct {
	calls  []*program.CallSite
	ifaces []types.Type
}

// NewConverter builds the SSA form of pkgs and their dependencies.
func NewConverter(pkgs []*packages.Package, opts Options) (*Converter, error) {
	valid := make([]*packages.Package, 0, len(pkgs))
	for _, pkg := range pkgs {
		if pkg != nil {
			valid = append(valid, pkg)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid packages provided")
	}
	if opts.IsLibrary == nil {
		opts.IsLibrary = IsLibraryPackage
	}

	prog, _ := ssautil.AllPackages(valid, ssa.InstantiateGenerics|ssa.BareInits)
	if prog == nil {
		return nil, fmt.Errorf("SSA program construction failed")
	}
	prog.Build()

	c := &Converter{
		prog:   prog,
		names:  NewNameCache(),
		opts:   opts,
		source: make(map[string]*packages.Package),
		index:  make(map[*ssa.Function]program.MethodRef),
		byName: make(map[string]*classInfo),
	}
	packages.Visit(valid, nil, func(p *packages.Package) {
		c.source[p.PkgPath] = p
	})
	for _, p := range prog.AllPackages() {
		if p.Pkg != nil {
			c.pkgs = append(c.pkgs, p)
		}
	}
	slices.SortFunc(c.pkgs, func(a, b *ssa.Package) int {
		return strings.Compare(a.Pkg.Path(), b.Pkg.Path())
	})
	return c, nil
}

// Program converts the SSA program into a linked program model.
func (c *Converter) Program(ctx context.Context) (*program.Program, error) {
	for _, p := range c.pkgs {
		c.declarePackage(p)
	}

	results := make([]scanResult, len(c.bodies))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, b := range c.bodies {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = c.scan(b.fn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, b := range c.bodies {
		b.method.Calls = results[i].calls
		for _, t := range results[i].ifaces {
			c.declareInterface(t, false)
		}
	}
	c.linkImplementations()

	entry, err := c.entry()
	if err != nil {
		return nil, err
	}

	conv := Conventions
	p := &program.Program{
		Entry:       entry,
		Conventions: &conv,
		Classes:     make([]*program.Class, 0, len(c.classes)),
	}
	for _, ci := range c.classes {
		p.Classes = append(p.Classes, ci.class)
	}
	if err := p.Link(); err != nil {
		return nil, fmt.Errorf("link converted program: %w", err)
	}

	slog.Debug("converted Go program",
		"packages", len(c.pkgs),
		"classes", len(p.Classes),
		"functions", len(c.bodies),
		"dropped_calls", c.dropped.Load())
	return p, nil
}

func (c *Converter) isLibrary(p *types.Package) bool {
	if p == nil {
		return true
	}
	return c.opts.IsLibrary(c.source[p.Path()])
}

func (c *Converter) addClass(ci *classInfo) {
	c.classes = append(c.classes, ci)
	c.byName[ci.class.Name] = ci
}

// declarePackage declares the package class of p followed by the classes of
// its named types, in name order.
func (c *Converter) declarePackage(p *ssa.Package) {
	lib := c.isLibrary(p.Pkg)
	pc := &classInfo{class: &program.Class{Name: p.Pkg.Path(), Library: lib}}
	c.addClass(pc)

	names := make([]string, 0, len(p.Members))
	for name := range p.Members {
		names = append(names, name)
	}
	slices.Sort(names)

	var named []*types.Named
	for _, name := range names {
		switch m := p.Members[name].(type) {
		case *ssa.Function:
			c.declareFunc(pc.class, m)
		case *ssa.Type:
			if n, ok := m.Type().(*types.Named); ok && n.TypeParams().Len() == 0 {
				named = append(named, n)
			}
		}
	}

	for _, n := range named {
		if types.IsInterface(n) {
			c.declareInterface(n, lib)
			continue
		}
		c.declareConcrete(n, lib)
	}
}

// declareFunc adds fn and, recursively, its closures to the package class.
func (c *Converter) declareFunc(pc *program.Class, fn *ssa.Function) {
	m := &program.Method{
		Sig:    Signature(fn.Name(), fn.Signature),
		Static: true,
		Native: fn.Blocks == nil,
	}
	pc.Methods = append(pc.Methods, m)
	c.index[fn] = program.MethodRef{Class: pc.Name, Sig: m.Sig}
	c.bodies = append(c.bodies, body{fn: fn, method: m})
	for _, anon := range fn.AnonFuncs {
		c.declareFunc(pc, anon)
	}
}

// declareConcrete declares the class of named with the method set of its
// pointer type. Promoted methods are represented by their wrappers.
func (c *Converter) declareConcrete(named *types.Named, lib bool) {
	cls := &program.Class{Name: c.names.ClassName(named), Library: lib}
	mset := c.prog.MethodSets.MethodSet(types.NewPointer(named))
	for i := range mset.Len() {
		sel := mset.At(i)
		obj, ok := sel.Obj().(*types.Func)
		if !ok {
			continue
		}
		var fn *ssa.Function
		if len(sel.Index()) == 1 {
			fn = c.prog.FuncValue(obj)
		} else {
			fn = c.prog.MethodValue(sel)
		}
		if fn == nil {
			continue
		}
		m := &program.Method{Sig: c.names.MethodSig(obj), Native: fn.Blocks == nil}
		cls.Methods = append(cls.Methods, m)
		c.index[fn] = program.MethodRef{Class: cls.Name, Sig: m.Sig}
		c.bodies = append(c.bodies, body{fn: fn, method: m})
	}
	c.addClass(&classInfo{class: cls, typ: named})
}

// declareInterface declares the interface class of t unless it exists.
func (c *Converter) declareInterface(t types.Type, lib bool) {
	name := c.names.ClassName(t)
	if _, ok := c.byName[name]; ok {
		return
	}
	iface, ok := t.Underlying().(*types.Interface)
	if !ok {
		return
	}
	if n, ok := t.(*types.Named); ok {
		lib = c.isLibrary(n.Obj().Pkg())
	}
	cls := &program.Class{Name: name, Interface: true, Library: lib}
	for i := range iface.NumMethods() {
		cls.Methods = append(cls.Methods, &program.Method{
			Sig:      c.names.MethodSig(iface.Method(i)),
			Abstract: true,
		})
	}
	c.addClass(&classInfo{class: cls, iface: iface})
}

// linkImplementations records, for every concrete class, the interface
// classes its pointer type implements.
func (c *Converter) linkImplementations() {
	var ifaces []*classInfo
	for _, ci := range c.classes {
		if ci.iface != nil {
			ifaces = append(ifaces, ci)
		}
	}
	for _, ci := range c.classes {
		if ci.typ == nil {
			continue
		}
		ptr := types.NewPointer(ci.typ)
		for _, ii := range ifaces {
			if types.Implements(ptr, ii.iface) {
				ci.class.Interfaces = append(ci.class.Interfaces, ii.class.Name)
			}
		}
	}
}

// scan collects the modelled call sites of fn in block and instruction
// order.
func (c *Converter) scan(fn *ssa.Function) scanResult {
	var res scanResult
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			call, ok := instr.(ssa.CallInstruction)
			if !ok {
				continue
			}
			common := call.Common()
			if site, iface := c.callSite(common); site != nil {
				res.calls = append(res.calls, site)
				if iface != nil {
					res.ifaces = append(res.ifaces, iface)
				}
				continue
			}
			c.dropped.Add(1)
		}
	}
	return res
}

// callSite models one call. It returns nil for calls outside the model and,
// for dispatched calls, the interface type dispatched on.
func (c *Converter) callSite(common *ssa.CallCommon) (*program.CallSite, types.Type) {
	if common.IsInvoke() {
		recv := common.Value.Type()
		if _, ok := recv.(*types.TypeParam); ok {
			return nil, nil
		}
		if !types.IsInterface(recv) {
			return nil, nil
		}
		class := c.names.ClassName(recv)
		return &program.CallSite{
			Kind:     program.Virtual,
			Target:   program.MethodRef{Class: class, Sig: c.names.MethodSig(common.Method)},
			Receiver: class,
			Text:     common.String(),
		}, recv
	}

	callee := common.StaticCallee()
	if callee == nil {
		return nil, nil
	}
	ref, ok := c.lookup(callee)
	if !ok {
		return nil, nil
	}
	return &program.CallSite{
		Kind:   program.Direct,
		Target: ref,
		Text:   common.String(),
	}, nil
}

// lookup finds the model method of a static callee. Generic instances map to
// their origin and synthetic wrappers to the function they wrap.
func (c *Converter) lookup(fn *ssa.Function) (program.MethodRef, bool) {
	if o := fn.Origin(); o != nil {
		fn = o
	}
	if ref, ok := c.index[fn]; ok {
		return ref, true
	}
	obj, ok := fn.Object().(*types.Func)
	if !ok || obj == nil {
		return program.MethodRef{}, false
	}
	if f := c.prog.FuncValue(obj); f != nil {
		if ref, ok := c.index[f]; ok {
			return ref, true
		}
	}
	return program.MethodRef{}, false
}

// entry resolves Options.Entry or finds main.main.
func (c *Converter) entry() (program.MethodRef, error) {
	if c.opts.Entry != "" {
		i := strings.LastIndexByte(c.opts.Entry, '.')
		if i <= 0 {
			return program.MethodRef{}, fmt.Errorf("entry %q: want pkgpath.Func", c.opts.Entry)
		}
		return c.funcRef(c.opts.Entry[:i], c.opts.Entry[i+1:])
	}
	for _, p := range c.pkgs {
		if p.Pkg.Name() == "main" && !c.isLibrary(p.Pkg) && p.Func("main") != nil {
			return c.funcRef(p.Pkg.Path(), "main")
		}
	}
	return program.MethodRef{}, fmt.Errorf("no application main package; name an entry function")
}

func (c *Converter) funcRef(pkgPath, name string) (program.MethodRef, error) {
	ci, ok := c.byName[pkgPath]
	if !ok || ci.typ != nil || ci.iface != nil {
		return program.MethodRef{}, fmt.Errorf("entry: unknown package %q", pkgPath)
	}
	for _, m := range ci.class.Methods {
		if strings.HasPrefix(m.Sig, name+"(") {
			return program.MethodRef{Class: pkgPath, Sig: m.Sig}, nil
		}
	}
	return program.MethodRef{}, fmt.Errorf("entry: package %s has no function %s", pkgPath, name)
}

// Convert builds the program model of pkgs.
func Convert(ctx context.Context, pkgs []*packages.Package, opts Options) (*program.Program, error) {
	c, err := NewConverter(pkgs, opts)
	if err != nil {
		return nil, err
	}
	return c.Program(ctx)
}
