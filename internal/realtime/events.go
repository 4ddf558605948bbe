package realtime

// Client-to-server event names.
const (
	EventJoinChat      = "join-chat"
	EventLeaveChat     = "leave-chat"
	EventSendMessage   = "send-message"
	EventEditMessage   = "edit-message"
	EventDeleteMessage = "delete-message"
	EventReactMessage  = "react-to-message"
	EventTypingStart   = "typing-start"
	EventTypingStop    = "typing-stop"
	EventMarkDelivered = "message-delivered"
	EventMarkRead      = "message-read"
	EventCallInitiated = "callInitiated"
	EventCallAnswered  = "callAnswered"
	EventCallEnded     = "callEnded"
)

// Server-to-client event names.
const (
	EventNewMessage          = "new-message"
	EventMessageEdited       = "message-edited"
	EventMessageDeleted      = "message-deleted"
	EventMessageReaction     = "message-reaction"
	EventMessageStatusUpdate = "message-status-update"
	EventUserTyping          = "user-typing"
	EventError               = "error"
)
