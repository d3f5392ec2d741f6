package message

import (
	"encoding/json"

	"github.com/real-rm/gochat/internal/metrics"
)

// ContentKind tags the parsed variant of a message's nested content payload
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
	// ContentUnsupported is the degraded variant for payloads that are not
	// valid JSON or carry an unknown type. The enclosing message envelope is
	// always preserved; only the rendering degrades.
	ContentUnsupported ContentKind = "unsupported"
)

// Content is the parsed form of the nested content payload. The raw wire
// contract keeps content as a serialized string; parsing it once at the
// boundary means downstream code never re-checks the raw string.
type Content struct {
	Kind    ContentKind
	Text    string
	URL     string
	Caption string
}

// contentPayload is the wire shape of the nested content string
type contentPayload struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	URL     string `json:"url,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// ParseContent resolves a raw content payload into its typed variant.
// It never fails: malformed JSON and unknown types degrade to the
// unsupported variant instead of dropping or corrupting the message.
func ParseContent(raw string) Content {
	var p contentPayload
	// No else needed: early return pattern (guard clause)
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		metrics.ContentParseFailures.Inc()
		return Content{Kind: ContentUnsupported}
	}

	switch p.Type {
	case string(ContentText):
		return Content{Kind: ContentText, Text: p.Text}
	case string(ContentImage):
		return Content{Kind: ContentImage, URL: p.URL, Caption: p.Caption}
	default:
		metrics.ContentParseFailures.Inc()
		return Content{Kind: ContentUnsupported}
	}
}

// EncodeTextContent serializes plain text into the nested content shape
// used by outgoing publishes.
func EncodeTextContent(text string) (string, error) {
	data, err := json.Marshal(contentPayload{Type: string(ContentText), Text: text})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
