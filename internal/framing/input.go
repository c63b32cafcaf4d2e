// internal/framing/input.go
package framing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"serial-bridge/internal/model"
)

// ErrInvalidHex is returned for hex input that is odd-length or contains non-hex characters
var ErrInvalidHex = errors.New("invalid hex input")

// ParseHexInput parses human-entered hex such as "0A0D" or "0a 0d" into bytes.
// Whitespace is ignored.
func ParseHexInput(text string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)

	if len(compact)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of digits (%d)", ErrInvalidHex, len(compact))
	}
	out, err := hex.DecodeString(compact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return out, nil
}

// EncodeOutbound turns user input into the bytes to transmit, newline included
func EncodeOutbound(text string, mode model.InputMode, newline model.NewlinePolicy) ([]byte, error) {
	var payload []byte
	switch mode {
	case model.InputModeHex:
		b, err := ParseHexInput(text)
		if err != nil {
			return nil, err
		}
		payload = b
	case model.InputModeText, "":
		payload = []byte(text)
	default:
		return nil, fmt.Errorf("unsupported input mode %q", mode)
	}
	return append(payload, newline.Bytes()...), nil
}
