package config

const (
	// TopicMessageDeleted carries deletion events from the chat app; vectors
	// and checkpoints for the message are cascaded away.
	TopicMessageDeleted = "chat.message.deleted"

	// TopicMessageUpdated carries edit events from the chat app; the
	// checkpoint is flagged pending ahead of the next hash-diff scan.
	TopicMessageUpdated = "chat.message.updated"

	// TopicRunStatus receives a summary after each re-embedding run.
	TopicRunStatus = "embeddings.run.status"
)
