package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Persona 助手的人设，用作模型的 system instruction
type Persona struct {
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Language    string   `json:"language"`
	Tone        string   `json:"tone"`
	Audience    string   `json:"audience"`
	Rules       []string `json:"rules"`
	NeverDo     []string `json:"never_do"`
	Disclaimers []string `json:"disclaimers"`
}

func LoadFromFile(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	var p Persona
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal persona: %w", err)
	}
	return &p, nil
}

// FormatSystemInstruction 将人设格式化为 system instruction，nil 返回空串
func (p *Persona) FormatSystemInstruction() string {
	if p == nil {
		return ""
	}
	var b strings.Builder

	if p.Name != "" {
		fmt.Fprintf(&b, "You are %s", p.Name)
		if p.Role != "" {
			fmt.Fprintf(&b, ", %s", p.Role)
		}
		b.WriteString(".\n")
	} else if p.Role != "" {
		fmt.Fprintf(&b, "You are %s.\n", p.Role)
	}
	if p.Language != "" {
		fmt.Fprintf(&b, "- Always answer in %s.\n", p.Language)
	}
	if p.Tone != "" {
		fmt.Fprintf(&b, "- Tone: %s\n", p.Tone)
	}
	if p.Audience != "" {
		fmt.Fprintf(&b, "- Audience: %s\n", p.Audience)
	}
	for _, r := range p.Rules {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	if len(p.NeverDo) > 0 {
		b.WriteString("\nYou never:\n")
		for _, n := range p.NeverDo {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	if len(p.Disclaimers) > 0 {
		fmt.Fprintf(&b, "\nWhen relevant, mention: %s\n", strings.Join(quoteAll(p.Disclaimers), ", "))
	}
	return b.String()
}

func quoteAll(ss []string) []string {
	result := make([]string, len(ss))
	for i, s := range ss {
		result[i] = "\"" + s + "\""
	}
	return result
}
