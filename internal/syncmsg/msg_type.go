package syncmsg

import "fmt"

type MessageType uint16

const (
	MsgSystem MessageType = iota
	MsgError
	MsgMetadataUpdated
)

func (t MessageType) String() string {
	switch t {
	case MsgSystem:
		return "SYSTEM"
	case MsgError:
		return "ERROR"
	case MsgMetadataUpdated:
		return "METADATA_UPDATED"
	default:
		return fmt.Sprintf("???(%d)", t)
	}
}
