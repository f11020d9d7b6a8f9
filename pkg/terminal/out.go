package terminal

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// transcriptWriter writes to a pagingWriter and also, optionally, to a
// buffered file. Writes are serialized: events are printed by the service
// thread while commands run.
type transcriptWriter struct {
	mu       sync.Mutex
	fileOnly bool
	pw       *pagingWriter
	file     *bufio.Writer
	fh       io.Closer
}

func newTranscriptWriter(w io.Writer) *transcriptWriter {
	return &transcriptWriter{pw: &pagingWriter{w: w}}
}

func (w *transcriptWriter) Write(p []byte) (nn int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.fileOnly {
		nn, err = w.pw.Write(p)
	}
	if err == nil && w.file != nil {
		return w.file.Write(p)
	}
	return
}

// Echo outputs str only to the optional transcript file.
func (w *transcriptWriter) Echo(str string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.WriteString(str)
	}
}

// Flush flushes the optional transcript file.
func (w *transcriptWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Flush()
	}
}

// CloseTranscript closes the optional transcript file.
func (w *transcriptWriter) CloseTranscript() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeTranscriptLocked()
}

func (w *transcriptWriter) closeTranscriptLocked() error {
	if w.file == nil {
		return nil
	}
	w.file.Flush()
	w.fileOnly = false
	err := w.fh.Close()
	w.file = nil
	w.fh = nil
	return err
}

// TranscribeTo starts transcribing the output to the specified file. If
// fileOnly is true the output will only go to the file, output to the
// io.Writer will be suppressed.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser, fileOnly bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeTranscriptLocked()
	w.fh = fh
	w.file = bufio.NewWriter(fh)
	w.fileOnly = fileOnly
}

// PageMaybe starts paging the output of the current command.
func (w *transcriptWriter) PageMaybe(cancel func()) {
	w.mu.Lock()
	w.pw.PageMaybe(cancel)
	w.mu.Unlock()
}

// ResetPager stops paging and waits for the pager to exit.
func (w *transcriptWriter) ResetPager() {
	w.mu.Lock()
	w.pw.Reset()
	w.mu.Unlock()
}

// pagingWriter writes to w. If PageMaybe is called, after a large amount of
// text has been written to w it will pipe the output to a pager instead.
type pagingWriter struct {
	mode     pagingWriterMode
	w        io.Writer
	buf      []byte
	cmd      *exec.Cmd
	cmdStdin io.WriteCloser
	pager    string
	lastnl   bool
	cancel   func()

	lines, columns int
}

type pagingWriterMode uint8

const (
	pagingWriterNormal pagingWriterMode = iota
	pagingWriterMaybe
	pagingWriterPaging
)

func (w *pagingWriter) Write(p []byte) (nn int, err error) {
	switch w.mode {
	case pagingWriterMaybe:
		w.buf = append(w.buf, p...)
		if !w.largeOutput() {
			if len(p) > 0 {
				w.lastnl = p[len(p)-1] == '\n'
			}
			return w.w.Write(p)
		}
		if !w.startPager() {
			return w.w.Write(p)
		}
		if !w.lastnl {
			w.w.Write([]byte("\n"))
		}
		w.w.Write([]byte("Sending output to pager...\n"))
		w.cmdStdin.Write(w.buf)
		w.buf = nil
		w.mode = pagingWriterPaging
		return len(p), nil
	case pagingWriterPaging:
		n, err := w.cmdStdin.Write(p)
		if err != nil && w.cancel != nil {
			w.cancel()
			w.cancel = nil
		}
		return n, err
	default:
		return w.w.Write(p)
	}
}

func (w *pagingWriter) startPager() bool {
	w.cmd = exec.Command(w.pager)
	w.cmd.Stdout = os.Stdout
	w.cmd.Stderr = os.Stderr

	var err1, err2 error
	w.cmdStdin, err1 = w.cmd.StdinPipe()
	err2 = w.cmd.Start()
	if err1 != nil || err2 != nil {
		w.cmd = nil
		w.mode = pagingWriterNormal
		return false
	}
	return true
}

// Reset returns the pagingWriter to its normal mode.
func (w *pagingWriter) Reset() {
	if w.mode == pagingWriterNormal {
		return
	}
	w.mode = pagingWriterNormal
	w.buf = nil
	if w.cmd != nil {
		w.cmdStdin.Close()
		w.cmd.Wait()
		w.cmd = nil
		w.cmdStdin = nil
	}
}

// PageMaybe configures pagingWriter to cache the output, after a large
// amount of text has been written to w it will automatically switch to
// piping output to a pager.
// The cancel function is called the first time a write to the pager errors.
func (w *pagingWriter) PageMaybe(cancel func()) {
	if w.mode != pagingWriterNormal {
		return
	}
	pager := os.Getenv("VMAGENT_PAGER")
	if pager == "" {
		stdout, _ := w.w.(*os.File)
		if stdout == nil || !isatty.IsTerminal(stdout.Fd()) {
			return
		}
		if strings.ToLower(os.Getenv("TERM")) == "dumb" {
			return
		}
		pager = os.Getenv("PAGER")
		if pager == "" {
			pager = "more"
		}
	}
	w.mode = pagingWriterMaybe
	w.pager = pager
	w.lastnl = true
	w.cancel = cancel
	w.getWindowSize()
}

func (w *pagingWriter) largeOutput() bool {
	lines := 0
	lineStart := 0
	for i := range w.buf {
		if i-lineStart > w.columns || w.buf[i] == '\n' {
			lineStart = i
			lines++
			if lines > w.lines {
				return true
			}
		}
	}
	return false
}
