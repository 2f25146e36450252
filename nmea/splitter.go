package nmea

import (
	"bufio"
	"bytes"
)

// Splitter tokenizes a modem byte stream into sentences. It uses the
// signature of bufio.SplitFunc so it can be used directly with
// bufio.Scanner.
//
// Sentences are split on the newline terminator, which is not included in
// the token. The atEOF parameter indicates whether any more data will be
// available. When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexByte(data, Terminator); i >= 0 {
		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter
