package ledger

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/permaweb/ao-ucm/internal/message"
	"github.com/permaweb/ao-ucm/internal/metrics"
)

// wireTag tolerates non-string tag values, which some processes emit.
type wireTag struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

type wireMessage struct {
	ID     string          `json:"Id"`
	Anchor string          `json:"Anchor"`
	Target string          `json:"Target"`
	Tags   []wireTag       `json:"Tags"`
	Data   json.RawMessage `json:"Data"`
}

func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// toMessage converts a wire message read from process's log into a
// validated Message.
func (w wireMessage) toMessage(process, fallbackID string, seq int64) (message.Message, error) {
	tags := make([]message.Tag, len(w.Tags))
	for i, t := range w.Tags {
		tags[i] = message.Tag{Name: t.Name, Value: rawText(t.Value)}
	}
	id := w.ID
	if id == "" {
		id = w.Anchor
	}
	if id == "" {
		id = fallbackID
	}
	msg, err := message.New(id, process, tags, rawText(w.Data), seq)
	if err != nil {
		return message.Message{}, err
	}
	msg.Target = w.Target
	return msg, nil
}

// edgeMessageID derives a stable id for a message that carries none.
func edgeMessageID(cursor string, index int) string {
	return cursor + "#" + strconv.Itoa(index)
}

// accept converts w, dropping it with a warning when malformed.
func accept(log zerolog.Logger, rec *metrics.Recorder, process, fallbackID string, seq int64, w wireMessage) (message.Message, bool) {
	msg, err := w.toMessage(process, fallbackID, seq)
	if err != nil {
		rec.Malformed(process)
		log.Warn().Err(err).Str("process", process).Str("id", fallbackID).Msg("dropping malformed message")
		return message.Message{}, false
	}
	return msg, true
}
