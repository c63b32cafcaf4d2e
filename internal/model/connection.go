// internal/model/connection.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Parity represents the serial parity setting
type Parity string

const (
	ParityNone Parity = "none"
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

// DisplayMode controls how inbound bytes are rendered
type DisplayMode string

const (
	DisplayModeText DisplayMode = "text"
	DisplayModeHex  DisplayMode = "hex"
)

// InputMode controls how outbound text is interpreted
type InputMode string

const (
	InputModeText InputMode = "text"
	InputModeHex  InputMode = "hex"
)

// NewlinePolicy is the terminator appended to every outbound payload
type NewlinePolicy string

const (
	NewlineCR   NewlinePolicy = "CR"
	NewlineLF   NewlinePolicy = "LF"
	NewlineCRLF NewlinePolicy = "CRLF"
	NewlineNone NewlinePolicy = "NONE"
)

// Bytes returns the raw terminator bytes for the policy
func (n NewlinePolicy) Bytes() []byte {
	switch n {
	case NewlineCR:
		return []byte{'\r'}
	case NewlineLF:
		return []byte{'\n'}
	case NewlineCRLF:
		return []byte{'\r', '\n'}
	default:
		return nil
	}
}

// Valid reports whether the policy is known
func (n NewlinePolicy) Valid() bool {
	switch n {
	case NewlineCR, NewlineLF, NewlineCRLF, NewlineNone:
		return true
	}
	return false
}

// Limits for connection parameters
const (
	MinDataBits    = 5
	MaxDataBits    = 8
	MinQuietPeriod = 1
	MaxQuietPeriod = 60
)

// ConnectionConfig is the serial link configuration frozen for one connect attempt
type ConnectionConfig struct {
	BaudRate           int    `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits           int    `json:"data_bits" mapstructure:"data_bits"`
	StopBits           int    `json:"stop_bits" mapstructure:"stop_bits"`
	Parity             Parity `json:"parity" mapstructure:"parity"`
	QuietPeriodSeconds int    `json:"quiet_period_seconds" mapstructure:"quiet_period_seconds"`
}

// DisplayPrefs holds framing and presentation preferences read at connect time
type DisplayPrefs struct {
	Charset            string        `json:"charset" mapstructure:"charset"`
	DisplayMode        DisplayMode   `json:"display_mode" mapstructure:"display_mode"`
	InputMode          InputMode     `json:"input_mode" mapstructure:"input_mode"`
	Newline            NewlinePolicy `json:"newline" mapstructure:"newline"`
	MaxLines           int           `json:"max_lines" mapstructure:"max_lines"`
	MaxLineBytes       int           `json:"max_line_bytes" mapstructure:"max_line_bytes"`
	LocalEcho          bool          `json:"local_echo" mapstructure:"local_echo"`
	AnnounceDisconnect bool          `json:"announce_disconnect" mapstructure:"announce_disconnect"`
}

// Settings is the persisted settings shape: one flat JSON object
type Settings struct {
	ConnectionConfig `mapstructure:",squash"`
	DisplayPrefs     `mapstructure:",squash"`
}

// FieldError describes one invalid settings field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the connection parameters
func (c ConnectionConfig) Validate() error {
	if c.BaudRate <= 0 {
		return &FieldError{Field: "baud_rate", Message: "must be positive"}
	}
	if c.DataBits < MinDataBits || c.DataBits > MaxDataBits {
		return &FieldError{Field: "data_bits", Message: fmt.Sprintf("must be between %d and %d", MinDataBits, MaxDataBits)}
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return &FieldError{Field: "stop_bits", Message: "must be 1 or 2"}
	}
	switch c.Parity {
	case ParityNone, ParityEven, ParityOdd:
	default:
		return &FieldError{Field: "parity", Message: "must be one of none, even, odd"}
	}
	if c.QuietPeriodSeconds < MinQuietPeriod || c.QuietPeriodSeconds > MaxQuietPeriod {
		return &FieldError{Field: "quiet_period_seconds", Message: fmt.Sprintf("must be between %d and %d", MinQuietPeriod, MaxQuietPeriod)}
	}
	return nil
}

// Validate checks the display preferences. Charset resolution is left to the framer.
func (p DisplayPrefs) Validate() error {
	switch p.DisplayMode {
	case DisplayModeText, DisplayModeHex:
	default:
		return &FieldError{Field: "display_mode", Message: "must be text or hex"}
	}
	switch p.InputMode {
	case InputModeText, InputModeHex:
	default:
		return &FieldError{Field: "input_mode", Message: "must be text or hex"}
	}
	if !p.Newline.Valid() {
		return &FieldError{Field: "newline", Message: "must be one of CR, LF, CRLF, NONE"}
	}
	if p.MaxLines <= 0 {
		return &FieldError{Field: "max_lines", Message: "must be positive"}
	}
	if p.MaxLineBytes < 0 {
		return &FieldError{Field: "max_line_bytes", Message: "must not be negative"}
	}
	if p.DisplayMode == DisplayModeText && p.Charset == "" {
		return &FieldError{Field: "charset", Message: "is required in text mode"}
	}
	return nil
}

// Validate checks the whole settings object
func (s Settings) Validate() error {
	if err := s.ConnectionConfig.Validate(); err != nil {
		return err
	}
	return s.DisplayPrefs.Validate()
}

// Scan implements sql.Scanner for JSONB columns
func (s *Settings) Scan(value interface{}) error {
	if value == nil {
		*s = Settings{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported settings column type %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// Value implements driver.Valuer for JSONB columns
func (s Settings) Value() (driver.Value, error) {
	return json.Marshal(s)
}
