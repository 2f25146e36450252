// Package nmea implements the NMEA-style framing used by the Swarm M138
// satellite modem: ASCII sentences of the form
//
//	$TAG[ payload]*HH\n
//
// where HH is the two-digit hex encoding of the 8-bit XOR of every byte
// strictly between the '$' and the '*'. All bytes on the wire are printable
// ASCII; the modem never emits NUL or embedded newlines inside a sentence.
package nmea

const (
	// Start marks the beginning of a sentence.
	Start = '$'
	// ChecksumDelim separates the body from the two checksum digits.
	ChecksumDelim = '*'
	// Terminator ends every sentence.
	Terminator = '\n'
)

// Command / message tags understood by the modem.
const (
	TagConfiguration = "CS"   // Configuration settings (device ID and type)
	TagDateTime      = "DT"   // Date/time status
	TagFirmware      = "FV"   // Firmware version
	TagGPSJamming    = "GJ"   // GPS jamming/spoofing indication
	TagGeospatial    = "GN"   // Geospatial information
	TagGPSFixQuality = "GS"   // GPS fix quality
	TagRxManagement  = "MM"   // Messages received management
	TagTxManagement  = "MT"   // Messages to transmit management
	TagPowerOff      = "PO"   // Power off
	TagPowerStatus   = "PW"   // Power status
	TagReceiveData   = "RD"   // Receive data message
	TagRestart       = "RS"   // Restart device
	TagReceiveTest   = "RT"   // Receive test
	TagSleep         = "SL"   // Sleep mode
	TagModemStatus   = "M138" // Modem status
	TagTransmitData  = "TD"   // Transmit data
)

// UnsolicitedMarkers are the substrings identifying sentences the modem sends
// without being solicited. Anything in the backlog not containing one of
// these is a remnant of a completed command/response exchange and can be
// discarded. The "$SL WAKE," marker is deliberately longer than the others:
// "$SL OK" and "$SL ERR" responses must not survive pruning.
var UnsolicitedMarkers = []string{
	"$DT ",
	"$GJ ",
	"$GN ",
	"$GS ",
	"$PW ",
	"$RD ",
	"$RT ",
	"$SL WAKE,",
	"$M138 ",
	"$TD SENT",
}
