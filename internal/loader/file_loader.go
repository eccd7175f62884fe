package loader

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadFile 读取本地文件，.html/.htm 按 HTML 解析，其余按纯文本
func LoadFile(path string) (Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" {
		return loadHTMLFile(path)
	}
	return loadTextFile(path)
}

func loadHTMLFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	title, text, err := ParseHTML(f)
	if err != nil {
		return Document{}, err
	}
	if title == "" {
		title = filepath.Base(path)
	}
	return Document{Source: path, Title: title, Content: text}, nil
}

// loadTextFile 去掉行尾空白，连续空行合并成一个
func loadTextFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	blank := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024) // 1MB buffer

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			blank = b.Len() > 0
			continue
		}
		if blank {
			b.WriteString("\n\n")
			blank = false
		} else if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return Document{}, fmt.Errorf("scan file: %w", err)
	}

	return Document{Source: path, Title: filepath.Base(path), Content: b.String()}, nil
}
