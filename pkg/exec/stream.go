package exec

// Stream is a single-pass, pull-based cursor over rows. HasNext may be
// called any number of times without consuming a row. Close releases the
// stream's resources, including those of nested streams it owns.
type Stream interface {
	// HasNext reports whether another row is available
	HasNext(ctx *Context) (bool, error)
	// Next returns the next row and fails when there is none
	Next(ctx *Context) (*Row, error)
	// Close is idempotent
	Close(ctx *Context)
}

type streamState int

const (
	needsAdvance streamState = iota
	buffered
	exhausted
	closed
)

// ProducerFunc returns the next row, or nil once the source is exhausted
type ProducerFunc func(ctx *Context) (*Row, error)

// producerStream adapts a ProducerFunc to the Stream protocol with one row
// of lookahead
type producerStream struct {
	produce ProducerFunc
	onClose func(ctx *Context)
	state   streamState
	next    *Row
}

// NewProducerStream builds a stream from a producer and an optional close hook.
// The hook runs exactly once.
func NewProducerStream(produce ProducerFunc, onClose func(ctx *Context)) Stream {
	return &producerStream{produce: produce, onClose: onClose}
}

func (s *producerStream) HasNext(ctx *Context) (bool, error) {
	switch s.state {
	case buffered:
		return true, nil
	case exhausted, closed:
		return false, nil
	}
	row, err := s.produce(ctx)
	if err != nil {
		s.state = exhausted
		return false, err
	}
	if row == nil {
		s.state = exhausted
		return false, nil
	}
	s.next = row
	s.state = buffered
	return true, nil
}

func (s *producerStream) Next(ctx *Context) (*Row, error) {
	ok, err := s.HasNext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoMoreRows
	}
	row := s.next
	s.next = nil
	s.state = needsAdvance
	return row, nil
}

func (s *producerStream) Close(ctx *Context) {
	if s.state == closed {
		return
	}
	s.state = closed
	s.next = nil
	if s.onClose != nil {
		s.onClose(ctx)
	}
}

// EmptyStream returns a stream with no rows
func EmptyStream() Stream {
	return NewSliceStream(nil)
}

// SliceStream iterates a fixed slice of rows
type SliceStream struct {
	rows []*Row
	pos  int
}

// NewSliceStream returns a stream over rows
func NewSliceStream(rows []*Row) *SliceStream {
	return &SliceStream{rows: rows}
}

func (s *SliceStream) HasNext(*Context) (bool, error) {
	return s.pos < len(s.rows), nil
}

func (s *SliceStream) Next(*Context) (*Row, error) {
	if s.pos >= len(s.rows) {
		return nil, ErrNoMoreRows
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *SliceStream) Close(*Context) {
	s.pos = len(s.rows)
}

// pull reads the next row from src, or nil at the end
func pull(ctx *Context, src Stream) (*Row, error) {
	ok, err := src.HasNext(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return src.Next(ctx)
}

// FilterStream keeps the rows of src accepted by keep
func FilterStream(src Stream, keep func(ctx *Context, row *Row) (bool, error)) Stream {
	return NewProducerStream(func(ctx *Context) (*Row, error) {
		for {
			row, err := pull(ctx, src)
			if err != nil || row == nil {
				return nil, err
			}
			ok, err := keep(ctx, row)
			if err != nil {
				return nil, err
			}
			if ok {
				return row, nil
			}
		}
	}, src.Close)
}

// MapStream transforms every row of src. Returning a nil row drops it.
func MapStream(src Stream, fn func(ctx *Context, row *Row) (*Row, error)) Stream {
	return NewProducerStream(func(ctx *Context) (*Row, error) {
		for {
			row, err := pull(ctx, src)
			if err != nil || row == nil {
				return nil, err
			}
			mapped, err := fn(ctx, row)
			if err != nil {
				return nil, err
			}
			if mapped != nil {
				return mapped, nil
			}
		}
	}, src.Close)
}

// FlatMapStream expands every row of src into a nested stream. Each nested
// stream is closed as soon as it is exhausted, and on Close.
func FlatMapStream(src Stream, fn func(ctx *Context, row *Row) (Stream, error)) Stream {
	var inner Stream
	closeInner := func(ctx *Context) {
		if inner != nil {
			inner.Close(ctx)
			inner = nil
		}
	}
	return NewProducerStream(func(ctx *Context) (*Row, error) {
		for {
			if inner != nil {
				row, err := pull(ctx, inner)
				if err != nil {
					return nil, err
				}
				if row != nil {
					return row, nil
				}
				closeInner(ctx)
			}
			row, err := pull(ctx, src)
			if err != nil || row == nil {
				return nil, err
			}
			if inner, err = fn(ctx, row); err != nil {
				inner = nil
				return nil, err
			}
		}
	}, func(ctx *Context) {
		closeInner(ctx)
		src.Close(ctx)
	})
}

// LimitStream yields at most n rows of src and closes src as soon as the
// n-th row has been taken
func LimitStream(src Stream, n int) Stream {
	taken := 0
	srcClosed := false
	closeSrc := func(ctx *Context) {
		if !srcClosed {
			srcClosed = true
			src.Close(ctx)
		}
	}
	return NewProducerStream(func(ctx *Context) (*Row, error) {
		if taken >= n {
			closeSrc(ctx)
			return nil, nil
		}
		row, err := pull(ctx, src)
		if row != nil {
			taken++
		}
		return row, err
	}, closeSrc)
}

// OnCloseStream runs hook after src is closed
func OnCloseStream(src Stream, hook func(ctx *Context)) Stream {
	return NewProducerStream(func(ctx *Context) (*Row, error) {
		return pull(ctx, src)
	}, func(ctx *Context) {
		src.Close(ctx)
		hook(ctx)
	})
}

// LazyStream defers building the underlying stream until the first pull
func LazyStream(open func(ctx *Context) (Stream, error)) Stream {
	var src Stream
	return NewProducerStream(func(ctx *Context) (*Row, error) {
		if src == nil {
			s, err := open(ctx)
			if err != nil {
				return nil, err
			}
			src = s
		}
		return pull(ctx, src)
	}, func(ctx *Context) {
		if src != nil {
			src.Close(ctx)
		}
	})
}

// ConcatStream yields the rows of each opened stream in turn. A stream is
// opened only after the previous one is exhausted and closed.
func ConcatStream(opens []func(ctx *Context) (Stream, error)) Stream {
	idx := 0
	var cur Stream
	return NewProducerStream(func(ctx *Context) (*Row, error) {
		for {
			if cur == nil {
				if idx >= len(opens) {
					return nil, nil
				}
				s, err := opens[idx](ctx)
				idx++
				if err != nil {
					return nil, err
				}
				cur = s
			}
			row, err := pull(ctx, cur)
			if err != nil {
				return nil, err
			}
			if row != nil {
				return row, nil
			}
			cur.Close(ctx)
			cur = nil
		}
	}, func(ctx *Context) {
		if cur != nil {
			cur.Close(ctx)
			cur = nil
		}
	})
}
