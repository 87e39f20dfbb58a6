package domain

// MessageBus routes messages between channels and the agent.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(channelName string, handler func(OutboundMessage))
	// Cancel aborts the query in flight for a channel conversation, if any.
	Cancel(channel, chatID string)
	OnCancel(handler func(channel, chatID string))
	Close()
}
