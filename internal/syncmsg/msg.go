package syncmsg

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Message is the websocket envelope between server and clients
type Message struct {
	Id   string      `json:"id"`
	Type MessageType `json:"typ"`
	Data any         `json:"dat"`
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type rawMessage struct {
		Id   string          `json:"id"`
		Type MessageType     `json:"typ"`
		Data json.RawMessage `json:"dat"`
	}

	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Id = raw.Id
	m.Type = raw.Type

	switch m.Type {
	case MsgSystem:
		var sys System
		if err := json.Unmarshal(raw.Data, &sys); err != nil {
			return err
		}
		m.Data = &sys
	case MsgError:
		var e Error
		if err := json.Unmarshal(raw.Data, &e); err != nil {
			return err
		}
		m.Data = &e
	case MsgMetadataUpdated:
		var upd MetadataUpdated
		if err := json.Unmarshal(raw.Data, &upd); err != nil {
			return err
		}
		m.Data = &upd
	default:
		return fmt.Errorf("unknown message type: %d", m.Type)
	}
	return nil
}

func Marshal(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

func Unmarshal(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func generateID() string {
	return uuid.NewString()[:8]
}
