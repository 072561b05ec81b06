package runtime

import (
	"io"
	"sync"
)

// An [io.Reader] that reports when the wrapped reader stops producing data.
type doneReader struct {
	r    io.Reader
	once sync.Once
	done chan struct{}
}

func newDoneReader(r io.Reader) *doneReader {
	return &doneReader{r: r, done: make(chan struct{})}
}

// Closed on the first read error, [io.EOF] included.
func (d *doneReader) Done() <-chan struct{} {
	return d.done
}

func (d *doneReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil {
		d.once.Do(func() { close(d.done) })
	}
	return n, err
}
