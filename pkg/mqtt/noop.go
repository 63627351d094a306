package mqtt

import "context"

type noop struct{}

// NewNoop returns a PubSub that drops every message. It stands in when no
// broker is configured.
func NewNoop() PubSub {
	return noop{}
}

func (noop) Publish(context.Context, string, any) error {
	return nil
}

func (noop) Subscribe(context.Context, string, Handler) error {
	return nil
}

func (noop) Unsubscribe(context.Context, string) error {
	return nil
}

func (noop) Disconnect(context.Context) error {
	return nil
}
