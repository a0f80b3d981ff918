package secdb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// deltaMaskSize is the number of bitmask bytes in a delta record: one bit
// per level per side, widened to whole bytes.
func deltaMaskSize(depth int) int { return (2*depth + 7) / 8 }

func appendFullMD(dst []byte, md *MarketData) []byte {
	dst = append(dst, tagFullMD)
	dst = binary.BigEndian.AppendUint64(dst, uint64(md.Time))
	for _, side := range [2][]Quote{md.Bid, md.Ask} {
		for _, q := range side {
			dst = binary.AppendVarint(dst, q.Price)
			dst = binary.AppendUvarint(dst, q.Size)
		}
	}
	return dst
}

func appendDeltaMD(dst []byte, prev, md *MarketData) []byte {
	depth := len(md.Bid)
	dst = append(dst, tagDeltaMD)
	dst = binary.AppendUvarint(dst, uint64(md.Time-prev.Time))

	maskAt := len(dst)
	dst = append(dst, make([]byte, deltaMaskSize(depth))...)

	for i, q := range md.Bid {
		if q != prev.Bid[i] {
			dst[maskAt+i/8] |= 1 << (i % 8)
			dst = binary.AppendVarint(dst, q.Price-prev.Bid[i].Price)
			dst = binary.AppendVarint(dst, int64(q.Size)-int64(prev.Bid[i].Size))
		}
	}
	for i, q := range md.Ask {
		bit := depth + i
		if q != prev.Ask[i] {
			dst[maskAt+bit/8] |= 1 << (bit % 8)
			dst = binary.AppendVarint(dst, q.Price-prev.Ask[i].Price)
			dst = binary.AppendVarint(dst, int64(q.Size)-int64(prev.Ask[i].Size))
		}
	}
	return dst
}

func appendTrade(dst []byte, t *Trade) []byte {
	dst = append(dst, tagTrade)
	dst = binary.BigEndian.AppendUint64(dst, uint64(t.Time))
	dst = binary.AppendUvarint(dst, t.ID)
	dst = binary.AppendVarint(dst, t.Price)
	dst = binary.AppendUvarint(dst, t.Volume)
	return dst
}

// decoder walks an event region, reconstructing full snapshots from deltas.
// On a short record nothing is consumed, so the caller can treat the tail
// as torn and stop.
type decoder struct {
	buf   []byte
	pos   int
	depth int
	last  *MarketData // delta anchor; nil right after a seek
}

func (d *decoder) next() (Event, error) {
	if d.pos >= len(d.buf) {
		return nil, io.EOF
	}
	switch tag := d.buf[d.pos]; tag {
	case tagFullMD:
		return d.fullMD()
	case tagDeltaMD:
		return d.deltaMD()
	case tagTrade:
		return d.trade()
	default:
		return nil, fmt.Errorf("%w: unknown tag 0x%02X at offset %d", ErrCorruptStream, tag, d.pos)
	}
}

func (d *decoder) fullMD() (Event, error) {
	p := d.pos + 1
	if p+8 > len(d.buf) {
		return nil, errShortRecord
	}
	md := &MarketData{
		Time: int64(binary.BigEndian.Uint64(d.buf[p:])),
		Bid:  make([]Quote, d.depth),
		Ask:  make([]Quote, d.depth),
	}
	p += 8
	for _, side := range [2][]Quote{md.Bid, md.Ask} {
		for i := range side {
			px, n := binary.Varint(d.buf[p:])
			if n <= 0 {
				return nil, varintErr(n)
			}
			p += n
			sz, n := binary.Uvarint(d.buf[p:])
			if n <= 0 {
				return nil, varintErr(n)
			}
			p += n
			side[i] = Quote{Price: px, Size: sz}
		}
	}
	d.pos = p
	d.last = md
	return md, nil
}

func (d *decoder) deltaMD() (Event, error) {
	if d.last == nil {
		return nil, fmt.Errorf("%w: delta record at offset %d without a preceding snapshot", ErrCorruptStream, d.pos)
	}
	p := d.pos + 1
	dt, n := binary.Uvarint(d.buf[p:])
	if n <= 0 {
		return nil, varintErr(n)
	}
	p += n

	msz := deltaMaskSize(d.depth)
	if p+msz > len(d.buf) {
		return nil, errShortRecord
	}
	mask := d.buf[p : p+msz]
	p += msz
	for bit := 2 * d.depth; bit < msz*8; bit++ {
		if mask[bit/8]&(1<<(bit%8)) != 0 {
			return nil, fmt.Errorf("%w: delta bitmask references a level beyond depth %d", ErrCorruptStream, d.depth)
		}
	}

	md := d.last.clone()
	md.Time += int64(dt)
	for _, side := range [2]struct {
		levels []Quote
		base   int
	}{{md.Bid, 0}, {md.Ask, d.depth}} {
		for i := range side.levels {
			bit := side.base + i
			if mask[bit/8]&(1<<(bit%8)) == 0 {
				continue
			}
			dp, n := binary.Varint(d.buf[p:])
			if n <= 0 {
				return nil, varintErr(n)
			}
			p += n
			ds, n := binary.Varint(d.buf[p:])
			if n <= 0 {
				return nil, varintErr(n)
			}
			p += n
			side.levels[i].Price += dp
			side.levels[i].Size = uint64(int64(side.levels[i].Size) + ds)
		}
	}

	d.pos = p
	d.last = md
	return md, nil
}

func (d *decoder) trade() (Event, error) {
	p := d.pos + 1
	if p+8 > len(d.buf) {
		return nil, errShortRecord
	}
	t := &Trade{Time: int64(binary.BigEndian.Uint64(d.buf[p:]))}
	p += 8
	id, n := binary.Uvarint(d.buf[p:])
	if n <= 0 {
		return nil, varintErr(n)
	}
	p += n
	px, n := binary.Varint(d.buf[p:])
	if n <= 0 {
		return nil, varintErr(n)
	}
	p += n
	vol, n := binary.Uvarint(d.buf[p:])
	if n <= 0 {
		return nil, varintErr(n)
	}
	p += n

	t.ID, t.Price, t.Volume = id, px, vol
	d.pos = p
	return t, nil
}

func varintErr(n int) error {
	if n == 0 {
		return errShortRecord
	}
	return fmt.Errorf("%w: varint overflow", ErrCorruptStream)
}
