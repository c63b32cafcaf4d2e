package framing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-bridge/internal/model"
)

func TestParseHexInput(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{in: "0A0D", want: []byte{0x0A, 0x0D}},
		{in: "0a 0d ff", want: []byte{0x0A, 0x0D, 0xFF}},
		{in: "", want: []byte{}},
		{in: "ABC", wantErr: true},
		{in: "0G", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHexInput(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidHex))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeOutbound(t *testing.T) {
	got, err := EncodeOutbound("0A0D", model.InputModeHex, model.NewlineCRLF)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0x0D, '\r', '\n'}, got)

	got, err = EncodeOutbound("AT", model.InputModeText, model.NewlineCR)
	require.NoError(t, err)
	assert.Equal(t, []byte("AT\r"), got)

	got, err = EncodeOutbound("AT", model.InputModeText, model.NewlineNone)
	require.NoError(t, err)
	assert.Equal(t, []byte("AT"), got)

	_, err = EncodeOutbound("ABC", model.InputModeHex, model.NewlineLF)
	assert.ErrorIs(t, err, ErrInvalidHex)
}

func TestRenderHex(t *testing.T) {
	assert.Equal(t, "00 0A FF", RenderHex([]byte{0x00, 0x0A, 0x0D, 0xFF}))
	assert.Equal(t, "", RenderHex([]byte{'\r'}))
}
