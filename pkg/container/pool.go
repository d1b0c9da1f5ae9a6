package container

// StringPool deduplicates NUL-terminated strings. Offset zero always holds
// the empty string so a zero reference means "none".
type StringPool struct {
	data  []byte
	index map[string]uint32
}

// NewStringPool returns a pool holding only the empty string.
func NewStringPool() *StringPool {
	return &StringPool{data: []byte{0}, index: map[string]uint32{"": 0}}
}

// Add returns the offset of s, appending it on first use.
func (p *StringPool) Add(s string) uint32 {
	if off, ok := p.index[s]; ok {
		return off
	}
	off := uint32(len(p.data))
	p.data = append(p.data, s...)
	p.data = append(p.data, 0)
	p.index[s] = off
	return off
}

// Bytes returns the pool contents.
func (p *StringPool) Bytes() []byte {
	return p.data
}

// Len returns the pool size in bytes.
func (p *StringPool) Len() int {
	return len(p.data)
}

// lookup reads the string at off from a pool image.
func lookup(pool []byte, off uint32) (string, bool) {
	if int(off) >= len(pool) {
		return "", false
	}
	end := int(off)
	for end < len(pool) && pool[end] != 0 {
		end++
	}
	if end == len(pool) {
		return "", false
	}
	return string(pool[off:end]), true
}
