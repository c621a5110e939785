package gofrontend

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"
)

// loadMode requests everything SSA construction needs for the whole import
// graph: dependency bodies are converted too so that library code can call
// back into the application.
const loadMode = packages.NeedDeps |
	packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedImports |
	packages.NeedTypes |
	packages.NeedSyntax |
	packages.NeedTypesInfo |
	packages.NeedModule

// LoadOptions configures package loading.
type LoadOptions struct {
	// Patterns are the package patterns to load. Defaults to "./...".
	Patterns []string

	// BuildTags are build tags to apply during loading.
	BuildTags []string

	// Dir is the directory to load packages from.
	// If empty, uses the current working directory.
	Dir string

	// Env is the environment to use for loading. Nil means os.Environ().
	Env []string

	// Tests also loads test variants of the packages.
	Tests bool
}

// LoadPackages loads and type checks Go packages for conversion.
func LoadPackages(ctx context.Context, opts LoadOptions) ([]*packages.Package, error) {
	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	cfg := &packages.Config{
		Context: ctx,
		Mode:    loadMode,
		Tests:   opts.Tests,
		Env:     opts.Env,
		Dir:     opts.Dir,
	}
	if len(opts.BuildTags) > 0 {
		cfg.BuildFlags = append(cfg.BuildFlags, "-tags", strings.Join(opts.BuildTags, ","))
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found matching patterns: %v", patterns)
	}

	var errorMessages []string
	for _, pkg := range pkgs {
		for _, err := range pkg.Errors {
			errorMessages = append(errorMessages, fmt.Sprintf("package %s: %v", pkg.PkgPath, err))
		}
	}
	if len(errorMessages) > 0 {
		return nil, fmt.Errorf("package errors:\n%s", strings.Join(errorMessages, "\n"))
	}

	return deduplicatePackages(pkgs), nil
}

// deduplicatePackages keeps one package per import path, preferring test
// variants, which are supersets of the regular package. The result is
// sorted by import path.
func deduplicatePackages(pkgs []*packages.Package) []*packages.Package {
	best := make(map[string]*packages.Package)
	for _, pkg := range pkgs {
		if strings.HasSuffix(pkg.ID, ".test") && !strings.Contains(pkg.ID, "[") {
			continue
		}
		existing, exists := best[pkg.PkgPath]
		if !exists || isTestVariant(pkg) && !isTestVariant(existing) {
			best[pkg.PkgPath] = pkg
		}
	}
	return slices.SortedFunc(maps.Values(best), func(a, b *packages.Package) int {
		return strings.Compare(a.PkgPath, b.PkgPath)
	})
}

// isTestVariant reports whether pkg was compiled with its test files, e.g.
// "example.com/p [example.com/p.test]".
func isTestVariant(pkg *packages.Package) bool {
	return strings.Contains(pkg.ID, "[")
}
