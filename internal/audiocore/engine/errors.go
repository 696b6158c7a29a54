package engine

import "fmt"

// System identifies the host API behind a stream.
type System int32

const (
	SystemALSA System = iota + 1
	SystemASIO
	SystemJACK
	SystemWASAPI
	SystemPulseAudio
	SystemDirectSound
	SystemCoreAudio
	SystemNull
)

func (s System) String() string {
	switch s {
	case SystemALSA:
		return "alsa"
	case SystemASIO:
		return "asio"
	case SystemJACK:
		return "jack"
	case SystemWASAPI:
		return "wasapi"
	case SystemPulseAudio:
		return "pulseaudio"
	case SystemDirectSound:
		return "dsound"
	case SystemCoreAudio:
		return "coreaudio"
	case SystemNull:
		return "null"
	default:
		return fmt.Sprintf("system(%d)", int32(s))
	}
}

// Cause classifies a native failure.
type Cause int32

const (
	CauseFormat Cause = iota
	CauseService
	CauseGeneric
	CauseUnknown
	CauseEndpoint
)

func (c Cause) String() string {
	switch c {
	case CauseFormat:
		return "format"
	case CauseService:
		return "service"
	case CauseGeneric:
		return "generic"
	case CauseUnknown:
		return "unknown"
	case CauseEndpoint:
		return "endpoint"
	default:
		return fmt.Sprintf("cause(%d)", int32(c))
	}
}

// Error is a failure reported by a backend.
type Error struct {
	System System
	Cause  Cause
	Fault  int32
	Text   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error %d: %s", e.System, e.Cause, e.Fault, e.Text)
}

// ErrorInfo carries the packed error code of a Buffer. The layout is
// system in bits 48..63, cause in bits 32..47 and fault in bits 0..31.
func ErrorInfo(e *Error) uint64 {
	if e == nil {
		return 0
	}
	return uint64(uint16(e.System))<<48 | uint64(uint16(e.Cause))<<32 | uint64(uint32(e.Fault))
}

// DecodeError unpacks a Buffer error code. It returns nil for zero.
func DecodeError(code uint64, text string) *Error {
	if code == 0 {
		return nil
	}
	return &Error{
		System: System(uint16(code >> 48)),
		Cause:  Cause(uint16(code >> 32)),
		Fault:  int32(uint32(code)),
		Text:   text,
	}
}
