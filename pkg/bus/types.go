package bus

// InboundMessage is a normalized chat event flowing from a channel to the
// bot service. Media holds local paths of downloaded attachments (voice
// notes and audio files for enrollment).
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []string          `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Attachment struct {
	Type     string `json:"type"` // voice | audio | file
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// OutboundMessage is a reply for a channel to deliver. Voice attachments
// are sent as playable voice notes where the platform supports them.
type OutboundMessage struct {
	Channel     string       `json:"channel"`
	ChatID      string       `json:"chat_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
