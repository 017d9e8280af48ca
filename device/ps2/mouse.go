package ps2

const (
	mouseLeftButton   = 1 << 0
	mouseRightButton  = 1 << 1
	mouseMiddleButton = 1 << 2
	mouseAlwaysOne    = 1 << 3
	mouseXSign        = 1 << 4
	mouseYSign        = 1 << 5
	mouseXOverflow    = 1 << 6
	mouseYOverflow    = 1 << 7
)

// MousePacket is a decoded 3-byte PS/2 mouse movement report. DY grows
// upwards.
type MousePacket struct {
	DX, DY              int16
	Left, Right, Middle bool
}

// MouseDecoder reassembles mouse packets from the byte stream delivered on
// IRQ12. The zero value is ready to use.
type MouseDecoder struct {
	buf [3]byte
	n   int

	// Dropped counts packets discarded because of overflow or bytes
	// skipped while resynchronizing.
	Dropped uint64
}

// Feed consumes one byte from the mouse. It returns true when the byte
// completed a packet.
func (d *MouseDecoder) Feed(b byte) (MousePacket, bool) {
	// The first byte of every packet has bit 3 set; anything else means
	// we lost track of the packet boundaries.
	if d.n == 0 && b&mouseAlwaysOne == 0 {
		d.Dropped++
		return MousePacket{}, false
	}

	d.buf[d.n] = b
	if d.n++; d.n < len(d.buf) {
		return MousePacket{}, false
	}
	d.n = 0

	flags := d.buf[0]
	if flags&(mouseXOverflow|mouseYOverflow) != 0 {
		d.Dropped++
		return MousePacket{}, false
	}

	packet := MousePacket{
		DX:     int16(d.buf[1]),
		DY:     int16(d.buf[2]),
		Left:   flags&mouseLeftButton != 0,
		Right:  flags&mouseRightButton != 0,
		Middle: flags&mouseMiddleButton != 0,
	}
	if flags&mouseXSign != 0 {
		packet.DX -= 0x100
	}
	if flags&mouseYSign != 0 {
		packet.DY -= 0x100
	}

	return packet, true
}
