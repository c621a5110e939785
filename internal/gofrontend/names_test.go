package gofrontend

import (
	"go/token"
	"go/types"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassName(t *testing.T) {
	pkg := types.NewPackage("github.com/example/test", "test")
	named := types.NewNamed(types.NewTypeName(token.NoPos, pkg, "MyType", nil), types.Typ[types.Int], nil)

	m := types.NewFunc(token.NoPos, pkg, "M", types.NewSignatureType(nil, nil, nil, nil, nil, false))
	literal := types.NewInterfaceType([]*types.Func{m}, nil).Complete()
	reader := types.NewNamed(types.NewTypeName(token.NoPos, pkg, "Reader", nil), literal, nil)

	tests := []struct {
		name string
		typ  types.Type
		want string
	}{
		{name: "nil", typ: nil, want: ""},
		{name: "named", typ: named, want: "github.com/example/test.MyType"},
		{name: "pointer", typ: types.NewPointer(named), want: "github.com/example/test.MyType"},
		{name: "named interface", typ: reader, want: "github.com/example/test.Reader"},
		{name: "interface literal", typ: literal, want: "interface{M()}"},
		{name: "predeclared", typ: types.Universe.Lookup("error").Type(), want: "error"},
	}

	c := NewNameCache()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 2 {
				require.Equal(t, tt.want, c.ClassName(tt.typ))
			}
		})
	}
}

func TestSignature(t *testing.T) {
	pkg := types.NewPackage("github.com/example/test", "test")
	named := types.NewNamed(types.NewTypeName(token.NoPos, pkg, "Shape", nil), types.Typ[types.Int], nil)
	v := func(typ types.Type) *types.Var { return types.NewParam(token.NoPos, pkg, "", typ) }

	tests := []struct {
		name     string
		params   []*types.Var
		results  []*types.Var
		variadic bool
		want     string
	}{
		{name: "empty", want: "f()"},
		{name: "one result", params: []*types.Var{v(named)}, results: []*types.Var{v(types.Typ[types.Int])}, want: "f(github.com/example/test.Shape) int"},
		{name: "tuple", params: []*types.Var{v(types.Typ[types.String]), v(types.NewSlice(types.Typ[types.Byte]))}, results: []*types.Var{v(types.Typ[types.Int]), v(types.Typ[types.Bool])}, want: "f(string, []byte) (int, bool)"},
		{name: "variadic", params: []*types.Var{v(types.NewSlice(types.Typ[types.Int]))}, variadic: true, want: "f(...int)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := types.NewSignatureType(nil, nil, nil, types.NewTuple(tt.params...), types.NewTuple(tt.results...), tt.variadic)
			require.Equal(t, tt.want, Signature("f", sig))
		})
	}
}

func TestMethodSigShared(t *testing.T) {
	pkg := types.NewPackage("github.com/example/test", "test")
	sig := types.NewSignatureType(nil, nil, nil, nil, types.NewTuple(types.NewParam(token.NoPos, pkg, "", types.Typ[types.Int])), false)
	a := types.NewFunc(token.NoPos, pkg, "Area", sig)
	b := types.NewFunc(token.NoPos, pkg, "Area", sig)

	c := NewNameCache()
	require.Equal(t, "Area() int", c.MethodSig(a))
	require.Equal(t, c.MethodSig(a), c.MethodSig(b))
	require.Empty(t, c.MethodSig(nil))
}
