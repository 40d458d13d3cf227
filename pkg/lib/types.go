package lib

import "strings"

// Command captures the program init launches: an executable path and its
// arguments, without the terminating argv entry.
type Command struct {
	Path string
	Args []string
}

// Argv returns the full argument vector, Path first.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Path)
	return append(argv, c.Args...)
}

// Empty reports whether there is nothing to execute.
func (c Command) Empty() bool {
	return strings.TrimSpace(c.Path) == ""
}

func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}
