package nmea

import (
	"bytes"
	"errors"
)

var (
	// ErrInvalidFormat is returned when a sentence is missing its '$' or '*'
	// delimiters, or when the checksum digits are not valid hex.
	ErrInvalidFormat = errors.New("nmea: invalid sentence format")

	// ErrInvalidChecksum is returned when the sentence checksum digits do not
	// match the XOR of the sentence body.
	ErrInvalidChecksum = errors.New("nmea: invalid checksum")
)

const hexDigits = "0123456789abcdef"

// Checksum computes the 8-bit XOR of body. The body is everything strictly
// between the '$' and the '*'.
func Checksum(body []byte) byte {
	var cs byte
	for _, b := range body {
		cs ^= b
	}
	return cs
}

// Frame builds a complete sentence from a tag and payload: the '$', the tag,
// a space and the payload (if any), the '*', two lowercase hex checksum
// digits and the terminating newline.
//
// Payloads may themselves end in '*' (e.g. "C=*"); the checksum then covers
// that byte too, since the checksum delimiter is always the final '*'.
// Payload length is the caller's responsibility.
func Frame(tag, payload string) []byte {
	out := make([]byte, 0, 1+len(tag)+1+len(payload)+4)
	out = append(out, Start)
	out = append(out, tag...)
	if payload != "" {
		out = append(out, ' ')
		out = append(out, payload...)
	}
	cs := Checksum(out[1:])
	out = append(out, ChecksumDelim)
	out = append(out, hexDigits[cs>>4], hexDigits[cs&0x0f])
	out = append(out, Terminator)
	return out
}

// Validate checks the framing and checksum of a sentence. The sentence may
// carry leading or trailing bytes around the '$'...'*HH' region; validation
// starts at the first '$' and the first '*' after it. Pure function.
func Validate(frame []byte) error {
	body, err := Body(frame)
	if err != nil {
		return err
	}

	star := bytes.IndexByte(frame, Start) + 1 + len(body)
	if len(frame) < star+3 {
		return ErrInvalidFormat
	}

	hi, ok := unhex(frame[star+1])
	if !ok {
		return ErrInvalidFormat
	}
	lo, ok := unhex(frame[star+2])
	if !ok {
		return ErrInvalidFormat
	}

	if Checksum(body) != hi<<4|lo {
		return ErrInvalidChecksum
	}
	return nil
}

// Body returns the checksummed region of a sentence: the bytes strictly
// between the '$' and the first '*' after it. It fails with ErrInvalidFormat
// when either delimiter is missing.
func Body(frame []byte) ([]byte, error) {
	dollar := bytes.IndexByte(frame, Start)
	if dollar < 0 {
		return nil, ErrInvalidFormat
	}
	star := bytes.IndexByte(frame[dollar:], ChecksumDelim)
	if star < 0 {
		return nil, ErrInvalidFormat
	}
	return frame[dollar+1 : dollar+star], nil
}

// Sentences splits buffered receive data into candidate sentences by
// driving Splitter over the whole buffer, trailing partial included. The
// input is not modified and the returned slices alias it, so splitting can
// safely be nested or repeated. Blank lines are dropped.
func Sentences(data []byte) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		advance, token, _ := Splitter(data, true)
		if len(token) > 0 {
			out = append(out, token)
		}
		data = data[advance:]
	}
	return out
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
