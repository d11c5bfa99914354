package markdown

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"
)

// FrontMatter is the metadata block written at the top of exported pages.
type FrontMatter struct {
	Title       string    `yaml:"title"`
	Slug        string    `yaml:"slug,omitempty"`
	Status      string    `yaml:"status,omitempty"`
	Description string    `yaml:"description,omitempty"`
	UpdatedAt   time.Time `yaml:"updated_at,omitempty"`
}

// Export writes body preceded by a YAML front matter block.
func Export(meta FrontMatter, body string) ([]byte, error) {
	header, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header)
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimLeft(body, "\n"))
	if !strings.HasSuffix(body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Import splits src into front matter and body. Input without a front matter
// block is returned whole as the body with empty metadata.
func Import(src []byte) (FrontMatter, string, error) {
	var meta FrontMatter
	body, err := frontmatter.Parse(bytes.NewReader(src), &meta)
	if err != nil {
		return FrontMatter{}, "", fmt.Errorf("parse front matter: %w", err)
	}
	meta.Title = strings.TrimSpace(meta.Title)
	meta.Slug = strings.TrimSpace(meta.Slug)
	return meta, strings.TrimLeft(string(body), "\n"), nil
}

// FirstHeading returns the text of the first level 1 heading in src, used as a
// title when imported markdown carries none.
func FirstHeading(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		}
	}
	return ""
}
