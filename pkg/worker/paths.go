package worker

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/neonlink/pkg/contract"
	"github.com/openfroyo/neonlink/pkg/template"
)

// OutputDirName is the directory under the temp dir holding output files.
const OutputDirName = "neonlink-output"

// invalidFileNameChars mirrors the characters rejected by common
// filesystems in a single path component.
const invalidFileNameChars = `<>:"/\|?*`

// SanitizeFileName replaces characters that are not valid in a file name
// with '-'.
func SanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(invalidFileNameChars, r) {
			return '-'
		}
		return r
	}, name)
}

// OutputPath returns <outputRoot>/<fingerprint(workDir)>/<sanitized>.json.
// An empty outputRoot means <tmp>/neonlink-output.
func OutputPath(outputRoot, workDir, projectName string) string {
	if outputRoot == "" {
		outputRoot = filepath.Join(os.TempDir(), OutputDirName)
	}
	return filepath.Join(outputRoot, template.Fingerprint(workDir), SanitizeFileName(projectName)+".json")
}

// DeleteArtifacts removes a previous run's output and failure files. It
// reports the first unexpected error but always attempts both.
func DeleteArtifacts(outputPath string) error {
	var errs []error
	for _, p := range []string{outputPath, contract.FailureLogPath(outputPath)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
