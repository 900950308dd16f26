package cmd

import (
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/waflow/waflow/pkg/lock"
)

// NewConversationLocker creates the per-conversation locker. An empty Redis
// URL selects the in-process locker, which is only safe with a single worker
// process.
func NewConversationLocker(redisURL string) lock.ConversationLocker {
	if redisURL == "" {
		return lock.NewKeyedLocker()
	}

	opts, err := backend.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("invalid redis URL: %w", err))
	}

	return lock.NewRedisLocker(backend.NewClient(opts), "waflow:")
}
