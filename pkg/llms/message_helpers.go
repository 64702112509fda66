package llms

// messageText returns the plain text content of a message.
func messageText(msg Message) string {
	return msg.Content
}

// isSystemMessage reports whether msg carries system/instruction content.
func isSystemMessage(msg Message) bool {
	return msg.Role == "system"
}

// isToolResultMessage reports whether msg is a tool-result turn.
func isToolResultMessage(msg Message) bool {
	return msg.Role == "tool"
}
