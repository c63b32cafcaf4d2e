// internal/framing/decoder.go
package framing

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"serial-bridge/internal/model"
)

// Decoder renders line bytes into display text
type Decoder struct {
	mode    model.DisplayMode
	charset string
	enc     encoding.Encoding
}

// NewDecoder resolves the charset (WHATWG labels such as "UTF-8",
// "ISO-8859-1", "windows-1252", "Shift_JIS") for text mode. Hex mode
// ignores the charset.
func NewDecoder(mode model.DisplayMode, charset string) (*Decoder, error) {
	d := &Decoder{mode: mode, charset: charset}

	switch mode {
	case model.DisplayModeHex:
		return d, nil
	case model.DisplayModeText:
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
		}
		d.enc = enc
		return d, nil
	default:
		return nil, fmt.Errorf("unsupported display mode %q", mode)
	}
}

// Mode returns the display mode
func (d *Decoder) Mode() model.DisplayMode {
	return d.mode
}

// Render converts raw bytes to text. It never fails: undecodable input is
// replaced with U+FFFD.
func (d *Decoder) Render(b []byte) string {
	if d.mode == model.DisplayModeHex {
		return RenderHex(b)
	}
	if d.enc == nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}

	out, err := d.enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(out)
}

// RenderHex renders bytes as space separated two-digit uppercase hex. Carriage
// return bytes are left out.
func RenderHex(b []byte) string {
	const digits = "0123456789ABCDEF"

	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for _, c := range b {
		if c == '\r' {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(digits[c>>4])
		sb.WriteByte(digits[c&0x0F])
	}
	return sb.String()
}
