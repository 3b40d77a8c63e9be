// Package dmimport parses the direct-message headers files from an account
// data export. The export ships them as JavaScript assignments rather than
// plain JSON; this package strips the assignment prefix, optionally
// decompresses, and yields the message ids and timestamps the purge
// workflow needs.
package dmimport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"sweeper/internal/types"
)

// Export assignment prefixes, one per variant.
const (
	directPrefix = "window.YTD.direct_message_headers.part0 = "
	groupPrefix  = "window.YTD.direct_message_group_headers.part0 = "
)

// createdAtLayout is the message timestamp format used by the export.
const createdAtLayout = "2006-01-02T15:04:05.000Z"

// Message is one direct message from the export, reduced to what deletion
// needs.
type Message struct {
	ID        string
	CreatedAt time.Time
}

// Intermediate structures mirroring the export's JSON shape.

type exportEntry struct {
	DMConversation struct {
		Messages []struct {
			MessageCreate *struct {
				ID        string `json:"id"`
				CreatedAt string `json:"createdAt"`
			} `json:"messageCreate"`
		} `json:"messages"`
	} `json:"dmConversation"`
}

// Parse reads one export file and returns every message in it, in file
// order. Gzip-compressed input is detected and decompressed transparently.
// Both the raw JavaScript assignment form and already-stripped plain JSON
// are accepted. Messages with no messageCreate body are skipped; a message
// with an unparseable timestamp is an error because deleting on a garbage
// date would be silent data loss.
func Parse(r io.Reader, kind types.DMExportKind) ([]Message, error) {
	br := bufio.NewReader(r)

	head, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("dmimport: reading input: %w", err)
	}
	var rd io.Reader = br
	if len(head) == 2 && head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("dmimport: opening gzip stream: %w", err)
		}
		defer gz.Close()
		rd = gz
	}

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("dmimport: reading input: %w", err)
	}
	data = stripPrefix(data, kind)

	var entries []exportEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("dmimport: decoding export: %w", err)
	}

	var messages []Message
	for _, e := range entries {
		for _, m := range e.DMConversation.Messages {
			if m.MessageCreate == nil || m.MessageCreate.ID == "" {
				continue
			}
			ts, err := time.Parse(createdAtLayout, m.MessageCreate.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("dmimport: parsing timestamp %q: %w", m.MessageCreate.CreatedAt, err)
			}
			messages = append(messages, Message{
				ID:        m.MessageCreate.ID,
				CreatedAt: ts.UTC(),
			})
		}
	}
	return messages, nil
}

// stripPrefix removes the JavaScript assignment wrapper when present.
func stripPrefix(data []byte, kind types.DMExportKind) []byte {
	prefix := directPrefix
	if kind == types.DMExportGroups {
		prefix = groupPrefix
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte(prefix)) {
		return trimmed[len(prefix):]
	}
	return trimmed
}
