package llm

// Roles of a [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation sent to a model.
type Message struct {
	Role    string
	Content string
	// Name optionally identifies the speaker within a role.
	Name string
}

// User returns a user message with content.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant message with content.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ModelCapabilities are the static limits of a model. A zero ContextWindow
// means unknown.
type ModelCapabilities struct {
	// ContextWindow counts input and output tokens together.
	ContextWindow     int
	MaxOutputTokens   int
	SupportsStreaming bool
}

// InputBudget is the number of prompt tokens left once the reply is
// reserved, or -1 when the window is unknown.
func (c ModelCapabilities) InputBudget() int {
	if c.ContextWindow <= 0 {
		return -1
	}
	return max(c.ContextWindow-c.MaxOutputTokens, 0)
}
