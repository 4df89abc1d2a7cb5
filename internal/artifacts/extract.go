package artifacts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies an extracted artifact
const (
	KindCode     = "code"
	KindDocument = "document"
	KindData     = "data"
)

// Artifact is one structured side-output detected in a completed
// assistant message. Persistence is the caller's responsibility.
type Artifact struct {
	ConversationID string `json:"conversationId"`
	Name           string `json:"name"`
	Kind           string `json:"type"`
	MimeType       string `json:"mimeType"`
	Content        string `json:"content"`
	FileExtension  string `json:"fileExtension"`
}

type languageMeta struct {
	Extension string
	MimeType  string
}

var languageTable = map[string]languageMeta{
	"python":     {".py", "text/x-python"},
	"py":         {".py", "text/x-python"},
	"javascript": {".js", "text/javascript"},
	"js":         {".js", "text/javascript"},
	"typescript": {".ts", "text/typescript"},
	"ts":         {".ts", "text/typescript"},
	"go":         {".go", "text/x-go"},
	"rust":       {".rs", "text/x-rust"},
	"java":       {".java", "text/x-java"},
	"c":          {".c", "text/x-c"},
	"cpp":        {".cpp", "text/x-c++"},
	"csharp":     {".cs", "text/x-csharp"},
	"ruby":       {".rb", "text/x-ruby"},
	"php":        {".php", "text/x-php"},
	"swift":      {".swift", "text/x-swift"},
	"kotlin":     {".kt", "text/x-kotlin"},
	"sql":        {".sql", "text/x-sql"},
	"html":       {".html", "text/html"},
	"css":        {".css", "text/css"},
	"bash":       {".sh", "text/x-shellscript"},
	"sh":         {".sh", "text/x-shellscript"},
	"shell":      {".sh", "text/x-shellscript"},
	"yaml":       {".yaml", "text/yaml"},
	"yml":        {".yaml", "text/yaml"},
	"xml":        {".xml", "text/xml"},
	"markdown":   {".md", "text/markdown"},
	"md":         {".md", "text/markdown"},
}

// Unknown languages fall back to a generic text mapping
var genericMeta = languageMeta{".txt", "text/plain"}

var (
	fencedBlockRe = regexp.MustCompile("(?s)```([a-zA-Z0-9+#_.-]*)[ \t]*\n(.*?)```")
	headingRe     = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	slugRe        = regexp.MustCompile(`[^a-z0-9]+`)
)

// Extract scans a completed message for structured artifacts: one code
// artifact per fenced block, one data artifact per fenced JSON block
// whose body parses, and a single document artifact when the text is a
// markdown document with no code blocks. Pure function of its input.
func Extract(finalText, conversationID string) []Artifact {
	var found []Artifact

	blocks := fencedBlockRe.FindAllStringSubmatch(finalText, -1)
	for i, block := range blocks {
		language := strings.ToLower(block[1])
		body := block[2]

		if language == "json" {
			// Only well-formed JSON becomes a data artifact; anything
			// else is skipped without error
			if !json.Valid([]byte(body)) {
				continue
			}
			found = append(found, Artifact{
				ConversationID: conversationID,
				Name:           fmt.Sprintf("data-%d.json", i+1),
				Kind:           KindData,
				MimeType:       "application/json",
				Content:        body,
				FileExtension:  ".json",
			})
			continue
		}

		meta, ok := languageTable[language]
		if !ok {
			meta = genericMeta
		}
		found = append(found, Artifact{
			ConversationID: conversationID,
			Name:           fmt.Sprintf("snippet-%d%s", i+1, meta.Extension),
			Kind:           KindCode,
			MimeType:       meta.MimeType,
			Content:        body,
			FileExtension:  meta.Extension,
		})
	}

	if len(blocks) == 0 {
		if heading := headingRe.FindStringSubmatch(finalText); heading != nil {
			found = append(found, Artifact{
				ConversationID: conversationID,
				Name:           documentName(heading[1]),
				Kind:           KindDocument,
				MimeType:       "text/markdown",
				Content:        finalText,
				FileExtension:  ".md",
			})
		}
	}

	return found
}

// documentName slugs a markdown heading into a filename
func documentName(heading string) string {
	slug := strings.ToLower(strings.TrimSpace(heading))
	slug = slugRe.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "document"
	}
	return slug + ".md"
}
