package gofrontend

import (
	"log/slog"
	"sync"

	"golang.org/x/tools/go/packages"
)

var getStdLibSet = sync.OnceValue(func() map[string]struct{} {
	pkgs, _ := packages.Load(&packages.Config{Mode: packages.NeedName}, "std")
	m := make(map[string]struct{}, len(pkgs)+1)
	for _, p := range pkgs {
		m[p.PkgPath] = struct{}{}
	}
	m["unsafe"] = struct{}{} // not in `go list std`
	slog.Debug("loaded std lib packages", "num", len(m))
	return m
})

// IsLibraryPackage reports whether p is out-of-project code: the standard
// library or a dependency outside the main module.
func IsLibraryPackage(p *packages.Package) bool {
	if p == nil {
		return true
	}
	if _, ok := getStdLibSet()[p.PkgPath]; ok {
		return true
	}
	if p.Module != nil {
		return !p.Module.Main
	}
	// Without module information (GOPATH mode, ad hoc file lists) there is
	// no main module to compare against. Such packages were named on the
	// command line or live in the workspace, so they are application code;
	// treating them as library would leave nothing to analyse.
	return false
}
