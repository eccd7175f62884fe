package console

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// Messenger 把回复打印到终端。终端不能改写已输出的内容，
// 更新时只追加新增部分；不是追加关系时另起一行重新打印。
type Messenger struct {
	out     io.Writer
	label   func(a ...any) string
	mu      sync.Mutex
	n       int
	printed map[string]string
	last    string
}

func NewMessenger(out io.Writer) *Messenger {
	return &Messenger{
		out:     out,
		label:   color.New(color.FgCyan, color.Bold).SprintFunc(),
		printed: make(map[string]string),
	}
}

func (m *Messenger) Send(_ context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.n++
	handle := strconv.Itoa(m.n)
	if m.last != "" {
		fmt.Fprintln(m.out)
	}
	if _, err := fmt.Fprint(m.out, m.label("Assistant: "), text); err != nil {
		return "", err
	}
	m.printed[handle] = text
	m.last = handle
	return handle, nil
}

func (m *Messenger) Update(_ context.Context, handle, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.printed[handle]
	if !ok {
		return fmt.Errorf("unknown message %q", handle)
	}

	var err error
	if handle == m.last && strings.HasPrefix(text, old) {
		_, err = fmt.Fprint(m.out, text[len(old):])
	} else {
		_, err = fmt.Fprint(m.out, "\n", m.label("Assistant: "), text)
	}
	m.printed[handle] = text
	m.last = handle
	return err
}

// Finish 结束当前回复，换行
func (m *Messenger) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last != "" {
		fmt.Fprintln(m.out)
		m.last = ""
	}
}
