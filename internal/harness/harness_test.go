package harness

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAll runs all scenarios under testdata.
func TestAll(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "get current file path")

	testdataDir := filepath.Join(filepath.Dir(filename), "..", "..", "testdata")

	testCases := discoverTestCases(t, testdataDir)
	require.NotEmpty(t, testCases, "no test cases found")

	if testing.Verbose() {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	for _, tc := range testCases {
		t.Run(tc.Dir, func(t *testing.T) {
			t.Parallel()

			result := NewHarness(testdataDir).Run(t, tc)
			if !result.Success {
				t.Errorf("Test failed: %s", result.Message)
			}
		})
	}
}

func discoverTestCases(t *testing.T, root string) []*TestCase {
	t.Helper()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)

	var testCases []*TestCase
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		// Go scenarios shell out to the go command.
		dir := filepath.Join(root, entry.Name())
		if strings.HasPrefix(entry.Name(), "go-") && testing.Short() {
			continue
		}

		if _, err := os.Stat(filepath.Join(dir, "expected.yaml")); err == nil {
			testCases = append(testCases, LoadTestCase(t, dir, root))
		}
	}
	return testCases
}

func TestDiffRows(t *testing.T) {
	tests := []struct {
		name string
		want []string
		got  []string
		n    int
	}{
		{name: "unchecked", want: nil, got: []string{"1_1,2"}},
		{name: "equal", want: []string{"1_1,2"}, got: []string{"1_1,2"}},
		{name: "empty expected", want: []string{}, got: []string{"1_1,2"}, n: 2},
		{name: "changed row", want: []string{"1_1,2", "1_2,3"}, got: []string{"1_1,2", "1_2,4"}, n: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, diffRows("edges", tt.want, tt.got), tt.n)
		})
	}
}
