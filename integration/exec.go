package integration

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

var (
	// compileMtx guards access to the executable path so that the project is
	// only compiled once.
	compileMtx sync.Mutex

	// executablePath is the path to the compiled executable. Empty until the
	// first call to rostermintExecutablePath.
	executablePath string
)

// rostermintExecutablePath compiles rostermint the first time it is called
// and returns the path of the binary.
func rostermintExecutablePath(baseDir string) (string, error) {
	compileMtx.Lock()
	defer compileMtx.Unlock()

	if len(executablePath) != 0 {
		return executablePath, nil
	}

	outputPath := filepath.Join(baseDir, "rostermint")
	if runtime.GOOS == "windows" {
		outputPath += ".exe"
	}

	cmd := exec.Command("go", "build", "-o", outputPath, "github.com/fancoin/rostermint")
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to build rostermint: %w\n%s", err, out)
	}

	executablePath = outputPath
	return executablePath, nil
}
