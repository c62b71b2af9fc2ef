package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/velistar/treepatch/internal/build"
	"github.com/velistar/treepatch/internal/clock"
	"github.com/velistar/treepatch/internal/config"
	"github.com/velistar/treepatch/internal/digest"
	"github.com/velistar/treepatch/internal/engine"
	"github.com/velistar/treepatch/internal/fsops"
)

// newEngine creates a new engine with real implementations of all dependencies.
func newEngine() *engine.Engine {
	fs := fsops.NewRealFS()
	digester := digest.NewSigDigester()
	clk := &clock.RealClock{}

	warnf := func(format string, args ...any) {
		PrintWarning(fmt.Sprintf(format, args...))
	}

	return engine.New(fs, digester, clk, nil, warnf)
}

// newBuilder creates a new patch builder with real dependencies.
func newBuilder() *build.Builder {
	return build.New(digest.NewSigDigester(), &clock.RealClock{})
}

// defaultPaths resolves the data directories, creating them if needed.
func defaultPaths() (*config.Paths, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to get config paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}
	return paths, nil
}

// outputJSON writes a value as indented JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
