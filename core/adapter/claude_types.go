package adapter

// claude.ai 网页端请求体

type ClaudeConversationCreate struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
}

type ClaudeCompletionRequest struct {
	Prompt      string        `json:"prompt"`
	Timezone    string        `json:"timezone"`
	Model       string        `json:"model"`
	Attachments []interface{} `json:"attachments"`
}

type ClaudeStopRequest struct {
	ConversationUUID string `json:"conversation_uuid,omitempty"`
}
