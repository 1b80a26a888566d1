package executor

import (
	"sync"

	"github.com/agentnode/core/runtime/agent/task"
)

// seenMessages implements routing idempotence (spec §8 invariant 4):
// repeating message/send with the same {messageId, taskId} pair produces no
// additional events. Keyed by taskId since messageId alone is not globally
// unique (only unique within a task, spec §3).
type seenMessages struct {
	mu   sync.Mutex
	byID map[string]*task.Task // key: taskId + "\x00" + messageId
}

func newSeenMessages() seenMessages {
	return seenMessages{byID: make(map[string]*task.Task)}
}

func key(taskID, messageID string) string {
	return taskID + "\x00" + messageID
}

func (s *seenMessages) check(taskID, messageID string) (*task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[key(taskID, messageID)]
	return t, ok
}

func (s *seenMessages) record(taskID, messageID string, t *task.Task) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[key(taskID, messageID)] = t
}
