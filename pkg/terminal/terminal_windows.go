package terminal

import (
	"io"

	"github.com/mattn/go-colorable"
)

// getColorableWriter returns a writer translating the ANSI escape
// sequences used by the terminal into console calls.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}
