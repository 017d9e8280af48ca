package ps2

const (
	scanExtendedPrefix = 0xe0
	scanPausePrefix    = 0xe1
	scanReleaseBit     = 0x80

	// The pause key emits E1 1D 45 E1 9D C5 and has no release code.
	pauseSequenceTail = 5

	scanLeftCtrl   = 0x1d
	scanLeftShift  = 0x2a
	scanRightShift = 0x36
	scanLeftAlt    = 0x38
	scanCapsLock   = 0x3a
)

// Key is a decoded keyboard event.
type Key struct {
	// Code is the set 1 scan code with the release bit cleared.
	Code uint8

	// Extended is set for keys whose scan code was prefixed by 0xe0.
	Extended bool

	// Pressed is false for key releases.
	Pressed bool

	// Char is the ASCII character produced by the key under the current
	// modifier state or 0 if the key does not produce one.
	Char byte

	Shift, Ctrl, Alt bool
}

// KeyboardDecoder turns a stream of scan code set 1 bytes into Key events
// using the US layout. The zero value is ready to use.
type KeyboardDecoder struct {
	extended   bool
	skip       int
	shiftCount int
	ctrl       bool
	alt        bool
	capsLock   bool
}

var (
	usLayout = [0x3a]byte{
		0, 0x1b, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b',
		'\t', 'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n',
		0, 'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`',
		0, '\\', 'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/', 0,
		'*', 0, ' ',
	}

	usLayoutShift = [0x3a]byte{
		0, 0x1b, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', '\b',
		'\t', 'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', '\n',
		0, 'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~',
		0, '|', 'Z', 'X', 'C', 'V', 'B', 'N', 'M', '<', '>', '?', 0,
		'*', 0, ' ',
	}
)

// Feed consumes one byte from the keyboard. It returns true when the byte
// completed a key event.
func (d *KeyboardDecoder) Feed(b byte) (Key, bool) {
	switch {
	case d.skip > 0:
		d.skip--
		return Key{}, false
	case b == scanPausePrefix:
		d.skip = pauseSequenceTail
		return Key{}, false
	case b == scanExtendedPrefix:
		d.extended = true
		return Key{}, false
	}

	key := Key{
		Code:     b &^ scanReleaseBit,
		Extended: d.extended,
		Pressed:  b&scanReleaseBit == 0,
	}
	d.extended = false

	switch key.Code {
	case scanLeftShift, scanRightShift:
		// Extended 2a/36 codes are fake shifts emitted around
		// navigation keys.
		if !key.Extended {
			if key.Pressed {
				d.shiftCount++
			} else if d.shiftCount > 0 {
				d.shiftCount--
			}
		}
	case scanLeftCtrl:
		d.ctrl = key.Pressed
	case scanLeftAlt:
		d.alt = key.Pressed
	case scanCapsLock:
		if key.Pressed && !key.Extended {
			d.capsLock = !d.capsLock
		}
	}

	key.Shift, key.Ctrl, key.Alt = d.shiftCount > 0, d.ctrl, d.alt
	if !key.Extended && int(key.Code) < len(usLayout) {
		key.Char = d.translate(key.Code, key.Shift)
	}

	return key, true
}

func (d *KeyboardDecoder) translate(code uint8, shift bool) byte {
	ch := usLayout[code]
	if ch >= 'a' && ch <= 'z' {
		// Caps lock inverts shift for letters only.
		shift = shift != d.capsLock
	}

	if shift {
		return usLayoutShift[code]
	}
	return ch
}
