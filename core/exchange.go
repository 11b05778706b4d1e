package core

// Role identifies the speaker of an Exchange.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Exchange is one role-tagged utterance in conversation memory.
// Never mutated after creation.
type Exchange struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Window sizes derived from conversation memory. The prompt window bounds how
// much history the inference prompt carries; the display window bounds what
// the UI shows. They are capped independently.
const (
	PromptWindowSize  = 3
	DisplayWindowSize = 6
)

// FallbackReply is returned as a successful reply when the inference
// collaborator answers without any extractable text. An empty-but-successful
// response is not an error.
const FallbackReply = "unable to generate a response"
