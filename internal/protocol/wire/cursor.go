package wire

// Cursor is a read-only, bounds-checked view over a contiguous byte range.
// Views returned by Advance alias the underlying storage and are only valid
// while the caller owns that storage.
type Cursor struct {
	data []byte
	off  int
}

func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Advance returns the next n bytes and moves past them. When fewer than n
// bytes remain the cursor does not move.
func (c *Cursor) Advance(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, ErrInsufficientData
	}
	view := c.data[c.off : c.off+n : c.off+n]
	c.off += n
	return view, nil
}

// Take advances by at most n bytes and returns what it passed over.
func (c *Cursor) Take(n int) []byte {
	if n > c.Remaining() {
		n = c.Remaining()
	}
	view, _ := c.Advance(n)
	return view
}

func (c *Cursor) Remaining() int {
	return len(c.data) - c.off
}

// Offset is the number of bytes advanced so far.
func (c *Cursor) Offset() int {
	return c.off
}

// Rest is a view of the unread bytes; it does not move the cursor.
func (c *Cursor) Rest() []byte {
	return c.data[c.off:]
}
