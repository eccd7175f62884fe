package loader

import "fmt"

// Document 加载得到的原始文档
type Document struct {
	Source  string // URL 或文件路径
	Title   string
	Content string
}

// Chunk 切分后的文档片段
type Chunk struct {
	Source  string
	Title   string
	Index   int
	Content string
}

// ID 片段的稳定 ID，重复导入同一来源会覆盖
func (c Chunk) ID() string {
	return fmt.Sprintf("%s#%05d", c.Source, c.Index)
}

// Metadata 写入向量库的元数据
func (c Chunk) Metadata() map[string]string {
	m := map[string]string{
		"source": c.Source,
		"chunk":  fmt.Sprintf("%d", c.Index),
	}
	if c.Title != "" {
		m["title"] = c.Title
	}
	return m
}
