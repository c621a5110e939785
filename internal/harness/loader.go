package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
	yaml "gopkg.in/yaml.v3"

	"github.com/715d/chacov/internal/gofrontend"
	"github.com/715d/chacov/pkg/program"
)

// ModelFile is the name of the YAML program model of a model scenario.
// Scenarios without one are loaded as Go modules.
const ModelFile = "model.yaml"

// LoadTestCase loads the expected.yaml of dir, naming the case relative to
// root when possible.
func LoadTestCase(t *testing.T, dir, root string) *TestCase {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, "expected.yaml"))
	require.NoError(t, err)

	tc := &TestCase{}
	require.NoError(t, yaml.Unmarshal(data, tc))

	tc.Dir = filepath.Base(dir)
	if root != "" {
		if rel, err := filepath.Rel(root, dir); err == nil {
			tc.Dir = rel
		}
	}
	return tc
}

// LoadProgram builds the program model of the scenario in dir.
func LoadProgram(t *testing.T, dir string, cfg Configuration) (*program.Program, error) {
	t.Helper()

	model := filepath.Join(dir, ModelFile)
	if _, err := os.Stat(model); err == nil {
		return program.LoadFile(model)
	}

	pkgs := LoadPackages(t, dir, cfg.BuildTags)
	return gofrontend.Convert(t.Context(), pkgs, gofrontend.Options{Entry: cfg.Entry})
}

// LoadPackages loads every package of the Go module in dir.
func LoadPackages(t *testing.T, dir string, buildTags []string) []*packages.Package {
	t.Helper()

	env := updateEnv(os.Environ(), "CGO_ENABLED", "0")
	t.Logf("Loading packages from %q", dir)
	pkgs, err := gofrontend.LoadPackages(t.Context(), gofrontend.LoadOptions{
		Patterns:  []string{"./..."},
		BuildTags: buildTags,
		Dir:       dir,
		Env:       env,
	})
	require.NoError(t, err)
	return pkgs
}

// updateEnv updates or adds an environment variable
func updateEnv(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = prefix + value
			return env
		}
	}
	return append(env, prefix+value)
}
