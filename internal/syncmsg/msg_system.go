package syncmsg

type System struct {
	SystemVersion string `json:"ver"`
	Message       string `json:"msg"`
}

func NewSystemMessage(version string, msg string) *Message {
	return &Message{
		Id:   generateID(),
		Type: MsgSystem,
		Data: &System{
			SystemVersion: version,
			Message:       msg,
		},
	}
}

type Error struct {
	Code    int    `json:"cod"`
	Message string `json:"msg"`
}

func NewError(code int, msg string) *Message {
	return &Message{
		Id:   generateID(),
		Type: MsgError,
		Data: &Error{
			Code:    code,
			Message: msg,
		},
	}
}
