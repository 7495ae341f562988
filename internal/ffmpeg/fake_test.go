package ffmpeg

import (
	"context"
	"strings"
)

// scriptedRunner answers commands by matching on the joined argument list.
type scriptedRunner struct {
	calls  [][]string
	script func(name string, args []string) (Result, error)
}

func (s *scriptedRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return s.script(name, args)
}

func hasArg(args []string, want string) bool {
	return strings.Contains(strings.Join(args, " "), want)
}
