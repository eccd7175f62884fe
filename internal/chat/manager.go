package chat

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/genai"
)

type Message struct {
	Role      string    `json:"role"` // "user" / "model"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	Messages   []Message `json:"messages"`
	LastActive time.Time `json:"last_active"`
}

// Manager 按线程保存对话历史
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	maxTurns    int
	sessionFile string
}

func NewManager(maxTurns int, sessionDir string) (*Manager, error) {
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	m := &Manager{
		sessions:    make(map[string]*Session),
		maxTurns:    maxTurns,
		sessionFile: filepath.Join(sessionDir, "sessions.json"),
	}

	// 尝试从文件恢复
	if data, err := os.ReadFile(m.sessionFile); err == nil {
		var s map[string]*Session
		if json.Unmarshal(data, &s) == nil && s != nil {
			m.sessions = s
		}
	}
	return m, nil
}

func (m *Manager) session(thread string) *Session {
	s, ok := m.sessions[thread]
	if !ok {
		s = &Session{}
		m.sessions[thread] = s
	}
	return s
}

// AddTurn 记录一问一答
func (m *Manager) AddTurn(thread, question, answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	s := m.session(thread)
	s.Messages = append(s.Messages,
		Message{Role: "user", Content: question, Timestamp: now},
		Message{Role: "model", Content: answer, Timestamp: now},
	)
	s.LastActive = now
	m.trim(s)
}

// GetHistory 获取线程的对话历史，转换为 genai.Content 格式
func (m *Manager) GetHistory(thread string) []*genai.Content {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[thread]
	if !ok {
		return nil
	}
	contents := make([]*genai.Content, 0, len(s.Messages))
	for _, msg := range s.Messages {
		var role genai.Role = genai.RoleUser
		if msg.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}

// Prune 清理长时间不活跃的线程
func (m *Manager) Prune(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	cutoff := time.Now().Add(-idle)
	for k, s := range m.sessions {
		if s.LastActive.Before(cutoff) {
			delete(m.sessions, k)
			n++
		}
	}
	return n
}

// Save 持久化到文件
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return os.WriteFile(m.sessionFile, data, 0644)
}

func (m *Manager) trim(s *Session) {
	// 保留最近 maxTurns*2 条消息（每轮 = 1 user + 1 model）
	max := m.maxTurns * 2
	if len(s.Messages) > max {
		s.Messages = s.Messages[len(s.Messages)-max:]
	}
}
