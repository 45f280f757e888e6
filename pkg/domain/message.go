package domain

// Role identifies the author of a thread message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the append-only thread log.
type Message struct {
	Role    Role   `json:"role" mapstructure:"role"`
	Content string `json:"content" mapstructure:"content"`
}

// StripSystem returns the log without its leading system message.
func StripSystem(log []Message) []Message {
	if len(log) > 0 && log[0].Role == RoleSystem {
		log = log[1:]
	}
	out := make([]Message, len(log))
	copy(out, log)
	return out
}
