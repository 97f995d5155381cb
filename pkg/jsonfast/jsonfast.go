/*
Package jsonfast offers a minimal JSON builder for flat, fixed-schema documents
such as the run outcome report.
*/
package jsonfast

import "time"

// Builder is a minimal JSON builder that operates on a reusable byte slice.
// It appends directly into the buffer and only supports one object level
// plus string arrays; it is not a general-purpose JSON writer.
type Builder struct {
	buf    []byte
	opened bool
	first  bool
}

// New creates a new builder with initial capacity.
func New(capacity int) *Builder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Builder{
		buf:   make([]byte, 0, capacity),
		first: true,
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.opened = false
	b.first = true
}

// Bytes returns the underlying buffer (do not modify after use).
func (b *Builder) Bytes() []byte {
	return b.buf
}

// BeginObject starts a JSON object.
func (b *Builder) BeginObject() {
	b.buf = append(b.buf, '{')
	b.opened = true
	b.first = true
}

// EndObject ends a JSON object.
func (b *Builder) EndObject() {
	if !b.opened && len(b.buf) == 0 {
		b.BeginObject()
	}
	b.buf = append(b.buf, '}')
	b.opened = false
}

// AddStringField adds a "name":"value" string field with escaping.
func (b *Builder) AddStringField(name, value string) {
	b.key(name)
	b.quoted(value)
}

// AddIntField adds a "name":int field.
func (b *Builder) AddIntField(name string, v int) {
	b.key(name)
	b.buf = append(b.buf, itoa(int64(v))...)
}

// AddInt64Field adds a "name":int64 field.
func (b *Builder) AddInt64Field(name string, v int64) {
	b.key(name)
	b.buf = append(b.buf, itoa(v)...)
}

// AddBoolField adds a "name":true|false field.
func (b *Builder) AddBoolField(name string, v bool) {
	b.key(name)
	if v {
		b.buf = append(b.buf, "true"...)
	} else {
		b.buf = append(b.buf, "false"...)
	}
}

// AddStringArrayField adds a "name":["a","b"] field. A nil or empty slice
// is written as [].
func (b *Builder) AddStringArrayField(name string, values []string) {
	b.key(name)
	b.buf = append(b.buf, '[')
	for i, v := range values {
		if i > 0 {
			b.buf = append(b.buf, ',')
		}
		b.quoted(v)
	}
	b.buf = append(b.buf, ']')
}

// AddTimeRFC3339Field adds a "name":"RFC3339" field in UTC with millisecond
// precision, without using time.Format. A zero time is written as null.
func (b *Builder) AddTimeRFC3339Field(name string, t time.Time) {
	b.key(name)
	if t.IsZero() {
		b.buf = append(b.buf, "null"...)
		return
	}
	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	b.buf = append(b.buf, '"')
	// YYYY-MM-DD
	b.append4(year)
	b.buf = append(b.buf, '-')
	b.append2(int(month))
	b.buf = append(b.buf, '-')
	b.append2(day)
	// THH:MM:SS.mmm
	b.buf = append(b.buf, 'T')
	b.append2(hour)
	b.buf = append(b.buf, ':')
	b.append2(minute)
	b.buf = append(b.buf, ':')
	b.append2(sec)
	b.buf = append(b.buf, '.')
	b.append3(t.Nanosecond() / int(time.Millisecond))
	b.buf = append(b.buf, 'Z', '"')
}

func (b *Builder) key(name string) {
	b.sep()
	b.quoted(name)
	b.buf = append(b.buf, ':')
}

func (b *Builder) quoted(s string) {
	b.buf = append(b.buf, '"')
	b.escapeString(s)
	b.buf = append(b.buf, '"')
}

func (b *Builder) sep() {
	if !b.opened {
		b.BeginObject()
		return
	}
	if b.first {
		b.first = false
		return
	}
	b.buf = append(b.buf, ',')
}

// escapeString escapes JSON special characters.
func (b *Builder) escapeString(s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '"':
			b.buf = append(b.buf, '\\', c)
		case '\b':
			b.buf = append(b.buf, '\\', 'b')
		case '\f':
			b.buf = append(b.buf, '\\', 'f')
		case '\n':
			b.buf = append(b.buf, '\\', 'n')
		case '\r':
			b.buf = append(b.buf, '\\', 'r')
		case '\t':
			b.buf = append(b.buf, '\\', 't')
		default:
			// Control characters (0x00..0x1f) need escaping
			if c < 0x20 {
				b.buf = append(b.buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0x0f])
			} else {
				b.buf = append(b.buf, c)
			}
		}
	}
}

func (b *Builder) append2(v int) {
	b.buf = append(b.buf, byte('0'+(v/10)%10), byte('0'+v%10))
}

func (b *Builder) append3(v int) {
	b.buf = append(b.buf, byte('0'+(v/100)%10), byte('0'+(v/10)%10), byte('0'+v%10))
}

func (b *Builder) append4(v int) {
	b.buf = append(b.buf,
		byte('0'+(v/1000)%10),
		byte('0'+(v/100)%10),
		byte('0'+(v/10)%10),
		byte('0'+v%10),
	)
}

// itoa converts an int64 to ascii into a stack buffer.
func itoa(x int64) []byte {
	if x == 0 {
		return []byte{'0'}
	}
	var tmp [20]byte
	i := len(tmp)
	neg := x < 0
	u := uint64(x)
	if neg {
		u = uint64(-x)
	}
	for u > 0 {
		i--
		tmp[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		tmp[i] = '-'
	}
	return tmp[i:]
}

var hex = "0123456789abcdef"
