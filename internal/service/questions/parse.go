package questions

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxLineBytes = 64 * 1024

// Parse 读取按行分隔的题目文本，去掉首尾空白并丢弃空行。
func Parse(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	var out []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return out, nil
}

// Normalize 对已经拆分好的题目做同样的清洗，返回新切片。
func Normalize(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type seedFile struct {
	Questions []string `yaml:"questions"`
}

// LoadFile 从启动种子文件加载题目。
// .yaml/.yml 支持顶层列表或 {questions: [...]}，其他扩展名按纯文本逐行解析。
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open question seed %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		return Parse(strings.NewReader(string(data)))
	}
}

func parseYAML(data []byte) ([]string, error) {
	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return Normalize(list), nil
	}

	var doc seedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse question yaml: %w", err)
	}
	return Normalize(doc.Questions), nil
}
