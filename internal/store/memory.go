package store

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"treta/internal/jsonstore"
)

const (
	MemoryFile = "memory_store.json"

	chatHistoryLimit = 20
)

type Profile struct {
	Name            string `json:"name"`
	Objective       string `json:"objective"`
	AutonomyDefault string `json:"autonomy_default"`
}

type ChatMessage struct {
	Role string `json:"role" enum:"user,assistant"`
	Text string `json:"text"`
	TS   string `json:"ts" format:"date-time"`
}

// MemorySnapshot is the persisted operator memory.
type MemorySnapshot struct {
	Profile     Profile       `json:"profile"`
	ChatHistory []ChatMessage `json:"chat_history"`
}

func defaultMemory() MemorySnapshot {
	return MemorySnapshot{
		Profile: Profile{
			Name:            "Marian",
			Objective:       "Build a profitable side business with digital products.",
			AutonomyDefault: "manual",
		},
		ChatHistory: []ChatMessage{},
	}
}

// Memory keeps the operator profile and the last chat turns.
type Memory struct {
	mu   sync.Mutex
	path string
	data MemorySnapshot
	Now  func() time.Time
}

func OpenMemory(path string, log *zap.Logger) (*Memory, error) {
	m := &Memory{path: path, data: defaultMemory(), Now: time.Now}
	var loaded MemorySnapshot
	found, err := jsonstore.Read(path, &loaded, log)
	if err != nil {
		return nil, err
	}
	if found {
		def := m.data.Profile
		if strings.TrimSpace(loaded.Profile.Name) == "" {
			loaded.Profile.Name = def.Name
		}
		if strings.TrimSpace(loaded.Profile.Objective) == "" {
			loaded.Profile.Objective = def.Objective
		}
		if strings.TrimSpace(loaded.Profile.AutonomyDefault) == "" {
			loaded.Profile.AutonomyDefault = def.AutonomyDefault
		}
		if loaded.ChatHistory == nil {
			loaded.ChatHistory = []ChatMessage{}
		}
		m.data = loaded
	}
	return m, nil
}

// Snapshot returns a copy of the memory.
func (m *Memory) Snapshot() MemorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MemorySnapshot{
		Profile:     m.data.Profile,
		ChatHistory: append([]ChatMessage{}, m.data.ChatHistory...),
	}
}

// Append records one chat turn, keeping the most recent ones.
func (m *Memory) Append(role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.ChatHistory = append(m.data.ChatHistory, ChatMessage{
		Role: role,
		Text: text,
		TS:   m.Now().UTC().Format(time.RFC3339),
	})
	if n := len(m.data.ChatHistory); n > chatHistoryLimit {
		m.data.ChatHistory = append([]ChatMessage{}, m.data.ChatHistory[n-chatHistoryLimit:]...)
	}
	return jsonstore.WriteAtomic(m.path, m.data)
}
