package walker

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/agentic-research/nancy/internal/overlay"
)

// processUmask reads the process umask. There is no read-only query; the
// mask has to be set to learn it, then restored.
func processUmask() os.FileMode {
	old := unix.Umask(0)
	unix.Umask(old)
	return os.FileMode(old)
}

// propagateMode copies the input file's permission bits to the output,
// masked by the umask, so an executable template yields an executable
// output.
func (w *Walker) propagateMode(outPath string, file *overlay.File) error {
	info, err := file.Stat()
	if err != nil {
		return err
	}
	mode := info.Mode().Perm() &^ w.umask
	return os.Chmod(outPath, mode)
}
