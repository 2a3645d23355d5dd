package proc

import "sync"

// tailBuffer keeps the last n lines pushed into it.
type tailBuffer struct {
	mu    sync.Mutex
	max   int
	buf   []string
	start int
	count int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max, buf: make([]string, max)}
}

func (t *tailBuffer) push(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count < t.max {
		t.buf[(t.start+t.count)%t.max] = line
		t.count++
		return
	}
	t.buf[t.start] = line
	t.start = (t.start + 1) % t.max
}

// lines returns the retained lines, oldest first.
func (t *tailBuffer) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return nil
	}
	out := make([]string, t.count)
	for i := 0; i < t.count; i++ {
		out[i] = t.buf[(t.start+i)%t.max]
	}
	return out
}
