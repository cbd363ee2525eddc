//go:build windows

package prompt

import "os"

// Console input and output are separate handles on windows; reads go through CONIN$.
func openTerminal() (*os.File, error) {
	return os.OpenFile("CONIN$", os.O_RDWR, 0)
}
