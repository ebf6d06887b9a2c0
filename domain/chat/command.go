package chat

// SendMessageCommand is a user's intent to post into a room.
type SendMessageCommand struct {
	RoomID  RoomID `json:"roomId" validate:"required,gt=0"`
	Content string `json:"content" validate:"required"`
}

// CreateGroupCommand creates a GROUP room; the creator is merged into the members.
type CreateGroupCommand struct {
	Name      string   `validate:"required,max=100"`
	MemberIDs []UserID `validate:"dive,gt=0"`
	CreatorID UserID   `validate:"required,gt=0"`
}

// GetMessagesCommand pages through the messages a user may see.
type GetMessagesCommand struct {
	RoomID RoomID
	UserID UserID
	Cursor *string
}
