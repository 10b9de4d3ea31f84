package display

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"golang.org/x/term"
)

// ErrAborted is returned by Confirm when the user presses Ctrl-C or Esc.
var ErrAborted = errors.New("aborted by user")

const defaultWidth = 80

// Console describes the output stream the live view is drawn on.
type Console struct {
	IsTerminal bool
	Width      int
}

type fileDescriptor interface {
	Fd() uintptr
}

// SetupConsole checks out and, on platforms that need it, switches the
// terminal into ANSI escape processing. Call it once before the first draw.
func SetupConsole(out io.Writer) Console {
	c := Console{Width: defaultWidth}
	f, ok := out.(fileDescriptor)
	if !ok {
		return c
	}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return c
	}
	c.IsTerminal = true
	enableVirtualTerminal(f.Fd())
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		c.Width = w
	}
	return c
}

// Confirm prompts and blocks for the user. On a terminal any single key
// continues; otherwise one line is read. EOF counts as confirmation so
// piped input does not hang.
func Confirm(in io.Reader, out io.Writer) error {
	fmt.Fprint(out, "Press Enter to continue...")

	if f, ok := in.(fileDescriptor); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("setting raw mode: %w", err)
		}
		defer fmt.Fprint(out, "\r\n")
		defer term.Restore(fd, state)

		var key [1]byte
		if _, err := in.Read(key[:]); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading key: %w", err)
		}
		if key[0] == 0x03 || key[0] == 0x1b {
			return ErrAborted
		}
		return nil
	}

	_, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading confirmation: %w", err)
	}
	fmt.Fprintln(out)
	return nil
}
