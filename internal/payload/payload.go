// Package payload implements the wire codec for command message bodies:
// UTF-8 text, gzip-compressed, then base64-encoded for mail transport.
package payload

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// DecodeError reports a malformed payload. Raw carries the undecoded body
// so the failure can be diagnosed from logs; Step names the stage that
// failed (base64, gzip, utf8).
type DecodeError struct {
	Step string
	Raw  string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload: %s: %v", e.Step, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode turns a mail body back into the text the client encoded. Mail
// transports fold base64 across lines, so transfer whitespace is stripped
// before decoding.
func Decode(body string) (string, error) {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, body)

	compressed, err := base64.StdEncoding.DecodeString(stripped)
	if err != nil {
		return "", &DecodeError{Step: "base64", Raw: body, Err: err}
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", &DecodeError{Step: "gzip", Raw: body, Err: err}
	}
	text, err := io.ReadAll(zr)
	if err != nil {
		return "", &DecodeError{Step: "gzip", Raw: body, Err: err}
	}
	if err := zr.Close(); err != nil {
		return "", &DecodeError{Step: "gzip", Raw: body, Err: err}
	}

	if !utf8.Valid(text) {
		return "", &DecodeError{Step: "utf8", Raw: body, Err: fmt.Errorf("decompressed payload is not valid UTF-8")}
	}
	return string(text), nil
}

// Encode is the inverse of Decode.
func Encode(text string) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(text)); err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
