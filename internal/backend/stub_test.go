package backend

import (
	"errors"
	"io"
)

type stubBackend struct {
	name string
	fail bool
}

func (s stubBackend) Name() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}

func (stubBackend) Compile(path string) (Query, error) {
	return nil, errors.New("not supported")
}

func (s stubBackend) Parse(r io.Reader) (Node, error) {
	if s.fail {
		return nil, errors.New("malformed")
	}
	return nil, nil
}
