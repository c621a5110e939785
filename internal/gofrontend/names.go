package gofrontend

import (
	"go/types"
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/chacov/pkg/coverage"
)

// NameCache computes the class names and method signatures of the program
// model. It is safe for concurrent use.
type NameCache struct {
	classes *xsync.Map[types.Type, string]
	sigs    *xsync.Map[*types.Func, string]
}

func NewNameCache() *NameCache {
	return &NameCache{
		classes: xsync.NewMap[types.Type, string](),
		sigs:    xsync.NewMap[*types.Func, string](),
	}
}

// ClassName names the class of typ.
//
// Concrete named types are named by coverage.ClassName, the rule
// coverage.ReceiverClass applies to runtime receivers: "pkgpath.Name" with
// pointers and type arguments stripped, and "main.Name" for every type of a
// main package. Two main packages declaring the same type name therefore
// clash, which Link reports as a duplicate class. Interfaces keep
// their full type string so that each instantiation of a generic interface
// and each interface literal is its own class. Predeclared named types such
// as error have no package path.
func (c *NameCache) ClassName(typ types.Type) string {
	if typ == nil {
		return ""
	}
	if name, ok := c.classes.Load(typ); ok {
		return name
	}
	name := computeClassName(typ)
	c.classes.Store(typ, name)
	return name
}

func computeClassName(typ types.Type) string {
	if ptr, ok := typ.(*types.Pointer); ok {
		typ = ptr.Elem()
	}
	named, ok := typ.(*types.Named)
	if !ok || types.IsInterface(typ) {
		return types.TypeString(typ, nil)
	}
	obj := named.Obj()
	return coverage.ClassName(runtimePkgPath(obj.Pkg()), obj.Name())
}

// runtimePkgPath is the package path reflection reports for types of p.
func runtimePkgPath(p *types.Package) string {
	switch {
	case p == nil:
		return ""
	case p.Name() == "main":
		return coverage.MainPackage
	}
	return p.Path()
}

// MethodSig returns the signature string of fn, e.g. "Area() float64".
// Methods with the same name and identical parameter and result types have
// the same signature, whichever type declares them.
func (c *NameCache) MethodSig(fn *types.Func) string {
	if fn == nil {
		return ""
	}
	if sig, ok := c.sigs.Load(fn); ok {
		return sig
	}
	sig := Signature(fn.Name(), fn.Type().(*types.Signature))
	c.sigs.Store(fn, sig)
	return sig
}

// Signature formats name and sig without parameter names or receiver.
func Signature(name string, sig *types.Signature) string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(name)
	b.WriteByte('(')
	params := sig.Params()
	for i := range params.Len() {
		if i > 0 {
			b.WriteString(", ")
		}
		t := params.At(i).Type()
		if sig.Variadic() && i == params.Len()-1 {
			if s, ok := t.(*types.Slice); ok {
				b.WriteString("...")
				t = s.Elem()
			}
		}
		b.WriteString(types.TypeString(t, nil))
	}
	b.WriteByte(')')

	results := sig.Results()
	switch results.Len() {
	case 0:
	case 1:
		b.WriteByte(' ')
		b.WriteString(types.TypeString(results.At(0).Type(), nil))
	default:
		b.WriteString(" (")
		for i := range results.Len() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(types.TypeString(results.At(i).Type(), nil))
		}
		b.WriteByte(')')
	}
	return b.String()
}
