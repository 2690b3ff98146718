package syncmsg

// MetadataUpdated tells a client that the journal moved to JID.
// Origin is the client id that committed, so it can skip its own commits.
type MetadataUpdated struct {
	JID    int64  `json:"jid"`
	Origin string `json:"org"`
}

func NewMetadataUpdated(jid int64, origin string) *Message {
	return &Message{
		Id:   generateID(),
		Type: MsgMetadataUpdated,
		Data: &MetadataUpdated{
			JID:    jid,
			Origin: origin,
		},
	}
}
