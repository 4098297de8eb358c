package queue

import (
	"bufio"
	"io"
	"os"

	"github.com/juju/errors"
)

// Session is exclusive dump cursor, at most one per Queue.
type Session struct {
	q       *Queue
	f       *os.File
	r       *bufio.Reader
	n       int
	eof     bool
	err     error
	stopped bool
}

// Next returns next record without newline, false exactly at end of data
// or on read error, see Err().
func (self *Session) Next() ([]byte, bool) {
	if self.stopped {
		self.err = ErrStopped
		return nil, false
	}
	if self.eof {
		self.err = ErrPastEnd
		return nil, false
	}
	if self.err != nil {
		return nil, false
	}
	line, err := self.r.ReadBytes('\n')
	if err == io.EOF && len(line) == 0 {
		self.eof = true
		return nil, false
	}
	if err != nil {
		self.err = errors.Annotatef(err, "queue read record=%d", self.n)
		return nil, false
	}
	self.n++
	return line[:len(line)-1], true
}

// Err is nil at clean end of data.
func (self *Session) Err() error { return self.err }

// Read is number of records returned by Next.
func (self *Session) Read() int { return self.n }

// Flush drops all records. Allowed only after Next reached end of data.
func (self *Session) Flush() error {
	if self.stopped {
		return ErrStopped
	}
	if !self.eof {
		return ErrPartialFlush
	}
	if err := self.q.truncate(); err != nil {
		return err
	}
	self.q.log.Debugf("queue flushed records=%d", self.n)
	return nil
}

// Stop releases queue ownership. Safe to call many times.
func (self *Session) Stop() error {
	if self.stopped {
		return nil
	}
	self.stopped = true
	err := self.f.Close()
	<-self.q.lock
	return errors.Annotate(err, "queue session close")
}
