package crawler

import "sync"

// urlSet is an insertion-ordered set of URLs safe for concurrent use.
type urlSet struct {
	mu    sync.Mutex
	index map[string]struct{}
	order []string
}

func newURLSet(urls ...string) *urlSet {
	s := &urlSet{index: make(map[string]struct{}, len(urls))}
	for _, u := range urls {
		s.Add(u)
	}
	return s
}

// Add inserts url and reports whether it was not present before.
func (s *urlSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[url]; ok {
		return false
	}
	s.index[url] = struct{}{}
	s.order = append(s.order, url)
	return true
}

func (s *urlSet) Contains(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[url]
	return ok
}

func (s *urlSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Slice returns a copy of the URLs in insertion order.
func (s *urlSet) Slice() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// errorMap records at most one error per URL; a later error replaces an
// earlier one.
type errorMap struct {
	mu   sync.Mutex
	errs map[string]error
}

func newErrorMap() *errorMap {
	return &errorMap{errs: make(map[string]error)}
}

func (m *errorMap) Put(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[url] = err
}

// Snapshot returns a copy of the recorded errors.
func (m *errorMap) Snapshot() map[string]error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]error, len(m.errs))
	for k, v := range m.errs {
		out[k] = v
	}
	return out
}
