package bus

import "time"

// Surface identifies where a request entered the duck.
const (
	SourceVoice      = "voice"
	SourceWebSpeak   = "web_speak"
	SourceWebAI      = "web_ai"
	SourceWebMessage = "web_message"
	SourceSMS        = "sms"
	SourceMMS        = "mms"
	SourcePeer       = "peer"
)

// InboundMessage is one normalized request from any surface.
type InboundMessage struct {
	Source     string
	Text       string
	ImageURL   string
	SenderHint string // phone number, peer duck name, or spoken name
	Timestamp  time.Time
	Metadata   map[string]any
}

// OutboundMessage is a side-channel reply routed back to a surface.
type OutboundMessage struct {
	Source   string // surface the reply goes to
	To       string // phone number or peer duck name
	Text     string
	MediaURL string
}

// Spoken reports whether the reply should come out of the duck's mouth.
func (m *InboundMessage) Spoken() bool {
	return m.Source == SourceVoice || m.Source == SourceWebSpeak || m.Source == SourceWebMessage
}
