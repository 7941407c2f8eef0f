package app

// stack holds release funcs, run once in reverse order of acquisition.
type stack struct {
	fns []func()
}

func (s *stack) push(fn func()) {
	if fn != nil {
		s.fns = append(s.fns, fn)
	}
}

func (s *stack) release() {
	fns := s.fns
	s.fns = nil
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}
