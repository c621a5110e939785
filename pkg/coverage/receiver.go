package coverage

import (
	"reflect"
	"strings"
)

// MainPackage is the package path the Go runtime reports for every type
// declared in a main package, whatever its import path.
const MainPackage = "main"

// ReceiverClass returns the class name an annotated edge uses for the
// dynamic type of v: the package path and type name, with pointers and type
// arguments stripped. Unnamed types yield "".
func ReceiverClass(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return ""
	}
	return ClassName(t.PkgPath(), t.Name())
}

// ClassName joins a runtime package path and a type name into a class
// name. Type arguments are dropped. Types of a main package must be passed
// with MainPackage as path, which is what reflection reports for them.
func ClassName(pkgPath, typeName string) string {
	if i := strings.IndexByte(typeName, '['); i >= 0 {
		typeName = typeName[:i]
	}
	if pkgPath == "" {
		return typeName
	}
	return pkgPath + "." + typeName
}
