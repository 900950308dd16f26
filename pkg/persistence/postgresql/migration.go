package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Chatbot flow definitions
			CREATE TABLE chatbots (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'archived')),
				is_active BOOLEAN NOT NULL DEFAULT false,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_chatbots_status ON chatbots(status);
			CREATE INDEX idx_chatbots_is_active ON chatbots(is_active);
			CREATE INDEX idx_chatbots_deleted_at ON chatbots(deleted_at);

			-- Conversations with messaging window state
			CREATE TABLE conversations (
				id VARCHAR(255) PRIMARY KEY,
				phone_number VARCHAR(32) NOT NULL UNIQUE,
				last_customer_message_at TIMESTAMP WITH TIME ZONE,
				is_window_open BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- Per-conversation execution state
			CREATE TABLE conversation_contexts (
				id VARCHAR(255) PRIMARY KEY,
				conversation_id VARCHAR(255) NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				chatbot_id VARCHAR(255) NOT NULL REFERENCES chatbots(id) ON DELETE CASCADE,
				current_node_id VARCHAR(255) NOT NULL DEFAULT '',
				variables JSONB NOT NULL DEFAULT '{}',
				node_history JSONB NOT NULL DEFAULT '[]',
				node_outputs JSONB NOT NULL DEFAULT '{}',
				is_active BOOLEAN NOT NULL DEFAULT true,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'waiting_input', 'completed', 'failed')),
				last_event_id VARCHAR(255) NOT NULL DEFAULT '',
				expires_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				completion_reason VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- At most one live execution per conversation
			CREATE UNIQUE INDEX uniq_contexts_live
				ON conversation_contexts(conversation_id)
				WHERE status NOT IN ('completed', 'failed');

			-- Containment queries over recorded node outputs
			CREATE INDEX idx_contexts_node_outputs
				ON conversation_contexts USING GIN (node_outputs jsonb_path_ops);

			CREATE INDEX idx_contexts_expires_at
				ON conversation_contexts(expires_at)
				WHERE status NOT IN ('completed', 'failed');

			CREATE INDEX idx_contexts_conversation_id ON conversation_contexts(conversation_id);
			CREATE INDEX idx_contexts_chatbot_id ON conversation_contexts(chatbot_id);
		`,
	}
}
