package jsonmessenger

// Counters tracks the nesting depth of braces and square brackets for the
// message currently being accumulated on one connection.
type Counters struct {
	// Braces is the number of outstanding '{'.
	Braces int
	// Brackets is the number of outstanding '['.
	Brackets int

	opened bool
}

// Reset zeroes both depths and forgets that the message was ever opened.
func (c *Counters) Reset() {
	*c = Counters{}
}

// Balanced reports whether a message was opened and both depths are back to zero.
func (c Counters) Balanced() bool {
	return c.opened && c.Braces == 0 && c.Brackets == 0
}

// Opened reports whether any opening token has been seen since the last reset.
func (c Counters) Opened() bool {
	return c.opened
}

// Count applies b to the counters. Bytes other than the four structural
// tokens are inert. It returns false if b closes a level that was never
// opened; the depth is left at zero in that case.
func (c *Counters) Count(b byte) bool {
	switch b {
	case '{':
		c.Braces++
		c.opened = true
	case '[':
		c.Brackets++
		c.opened = true
	case '}':
		if c.Braces == 0 {
			return false
		}
		c.Braces--
	case ']':
		if c.Brackets == 0 {
			return false
		}
		c.Brackets--
	}
	return true
}
