package control

import "github.com/aquawius/aqua-sub000/internal/wire"

// Method names for the four control-plane RPCs.
const (
	MethodConnect        = "connect"
	MethodDisconnect      = "disconnect"
	MethodKeepAlive       = "keep_alive"
	MethodGetAudioFormat  = "get_audio_format"
)

// Error codes returned by the control plane.
const (
	CodeOK             = ""
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeAlreadyExists   = "ALREADY_EXISTS"
	CodeNotFound        = "NOT_FOUND"
)

// FormatWire is the JSON-friendly wire representation of wire.Format.
type FormatWire struct {
	Encoding   uint32 `json:"encoding"`
	Channels   uint32 `json:"channels"`
	SampleRate uint32 `json:"sample_rate"`
	BitDepth   uint32 `json:"bit_depth"`
}

func toFormatWire(f wire.Format) FormatWire {
	return FormatWire{
		Encoding:   uint32(f.Encoding),
		Channels:   f.Channels,
		SampleRate: f.SampleRate,
		BitDepth:   f.BitDepth,
	}
}

func (fw FormatWire) toFormat() wire.Format {
	return wire.Format{
		Encoding:   wire.Encoding(fw.Encoding),
		Channels:   fw.Channels,
		SampleRate: fw.SampleRate,
		BitDepth:   fw.BitDepth,
	}
}

// Envelope frames one request or response on the control stream, newline
// delimited JSON — the same framing idiom as a ControlMsg
// protocol, generalized into a synchronous request/response pair so calls
// on one stream can never interleave.
type Envelope struct {
	Method string `json:"method,omitempty"`

	// Request fields.
	ClientAddress string `json:"client_address,omitempty"`
	ClientPort    int    `json:"client_port,omitempty"`
	UUID          string `json:"uuid,omitempty"`

	// Response fields.
	Success        bool       `json:"success,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ClientUUID     string     `json:"client_uuid,omitempty"`
	ServerAddress  string     `json:"server_address,omitempty"`
	ServerUDPPort  int        `json:"server_udp_port,omitempty"`
	ServerFormat   FormatWire `json:"server_format,omitempty"`
}
