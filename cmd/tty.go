package cmd

import "github.com/mattn/go-isatty"

func terminalFd(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
