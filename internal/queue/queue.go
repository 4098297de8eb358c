// Package queue is durable store-and-forward telemetry queue.
//
// File format is newline-delimited records. Append writes whole line with
// single write and fsync, failed write is truncated away. Dump session owns
// queue exclusively: appends wait until session Stop.
package queue

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/geotrack/log2"
)

// MaxRecordSize is upper limit of one record without newline.
const MaxRecordSize = 1548

var (
	ErrSessionOpen  = errors.New("queue dump session already open")
	ErrPartialFlush = errors.New("queue flush before end of data")
	ErrPastEnd      = errors.New("queue read past end of data")
	ErrStopped      = errors.New("queue session stopped")
	ErrClosed       = errors.New("queue closed")
)

type file interface {
	io.WriterAt
	Sync() error
	Truncate(size int64) error
	Close() error
}

type Queue struct {
	log  *log2.Log
	path string
	lock chan struct{} // exclusive owner: Append or dump Session

	mu    sync.Mutex // guards fields below
	f     file
	size  int64
	count int
}

// Open creates parent directory and queue file if missing.
// Trailing partial line left by crash is truncated.
func Open(path string, log *log2.Log) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Annotatef(err, "queue mkdir path=%s", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Annotatef(err, "queue open path=%s", path)
	}
	valid, count, err := scan(f)
	if err != nil {
		f.Close()
		return nil, errors.Annotatef(err, "queue scan path=%s", path)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Annotatef(err, "queue stat path=%s", path)
	}
	if st.Size() != valid {
		log.Errorf("queue path=%s partial record size=%d truncated to=%d", path, st.Size(), valid)
		if err = f.Truncate(valid); err == nil {
			err = f.Sync()
		}
		if err != nil {
			f.Close()
			return nil, errors.Annotatef(err, "queue repair path=%s", path)
		}
	}
	log.Debugf("queue path=%s records=%d size=%d", path, count, valid)
	return &Queue{
		log:   log,
		path:  path,
		lock:  make(chan struct{}, 1),
		f:     f,
		size:  valid,
		count: count,
	}, nil
}

// scan returns offset after last newline and number of complete lines.
func scan(r io.ReaderAt) (int64, int, error) {
	var valid, off int64
	count := 0
	buf := make([]byte, 32<<10)
	for {
		n, err := r.ReadAt(buf, off)
		chunk := buf[:n]
		for {
			i := bytes.IndexByte(chunk, '\n')
			if i < 0 {
				break
			}
			count++
			valid = off + int64(len(buf[:n])-len(chunk)) + int64(i) + 1
			chunk = chunk[i+1:]
		}
		off += int64(n)
		if err == io.EOF {
			return valid, count, nil
		}
		if err != nil {
			return 0, 0, err
		}
	}
}

func (self *Queue) Path() string { return self.path }

// Len is number of complete records.
func (self *Queue) Len() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.count
}

// Size in bytes.
func (self *Queue) Size() int64 {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.size
}

// Append stores one record. Blocks while dump session is open.
// Returns false on invalid record or any I/O failure, nothing is stored then.
func (self *Queue) Append(line []byte) bool {
	if len(line) == 0 || len(line) > MaxRecordSize || bytes.IndexByte(line, '\n') >= 0 {
		self.log.Errorf("queue append invalid record len=%d", len(line))
		return false
	}

	self.lock <- struct{}{}
	defer func() { <-self.lock }()
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.f == nil {
		self.log.Error(errors.Annotate(ErrClosed, "queue append"))
		return false
	}

	buf := make([]byte, len(line)+1)
	copy(buf, line)
	buf[len(line)] = '\n'
	_, err := self.f.WriteAt(buf, self.size)
	if err == nil {
		err = self.f.Sync()
	}
	if err != nil {
		self.log.Error(errors.Annotatef(err, "queue append path=%s", self.path))
		if terr := self.f.Truncate(self.size); terr != nil {
			self.log.Error(errors.Annotatef(terr, "queue append rollback path=%s", self.path))
		}
		return false
	}
	self.size += int64(len(buf))
	self.count++
	return true
}

// StartDump acquires exclusive ownership without waiting.
func (self *Queue) StartDump() (*Session, error) {
	select {
	case self.lock <- struct{}{}:
	default:
		return nil, ErrSessionOpen
	}

	self.mu.Lock()
	closed, size, count := self.f == nil, self.size, self.count
	self.mu.Unlock()
	if closed {
		<-self.lock
		return nil, errors.Annotate(ErrClosed, "queue start dump")
	}
	f, err := os.Open(self.path)
	if err != nil {
		<-self.lock
		return nil, errors.Annotatef(err, "queue start dump path=%s", self.path)
	}
	self.log.Debugf("queue dump start records=%d size=%d", count, size)
	return &Session{
		q: self,
		f: f,
		r: bufio.NewReaderSize(io.LimitReader(f, size), MaxRecordSize+1),
	}, nil
}

func (self *Queue) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.f == nil {
		return nil
	}
	err := self.f.Close()
	self.f = nil
	return errors.Annotatef(err, "queue close path=%s", self.path)
}

func (self *Queue) truncate() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.f == nil {
		return ErrClosed
	}
	err := self.f.Truncate(0)
	if err == nil {
		err = self.f.Sync()
	}
	if err != nil {
		return errors.Annotatef(err, "queue flush path=%s", self.path)
	}
	self.size = 0
	self.count = 0
	return nil
}
