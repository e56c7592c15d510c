package contextkeys

import (
	"context"

	"jellyward/types"
)

type actorKey struct{}
type callbackDataKey struct{}

// Actor is the resolved identity of the update's sender.
type Actor struct {
	ChatID      int64
	AccountID   string
	Username    string
	Role        types.Role
	IsAdmin     bool
	Linked      bool
	DisplayName string
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func GetActor(ctx context.Context) (Actor, bool) {
	v := ctx.Value(actorKey{})
	if v == nil {
		return Actor{}, false
	}
	return v.(Actor), true
}

func WithCallbackData(ctx context.Context, data string) context.Context {
	return context.WithValue(ctx, callbackDataKey{}, data)
}

func GetCallbackData(ctx context.Context) (string, bool) {
	v := ctx.Value(callbackDataKey{})
	if v == nil {
		return "", false
	}
	return v.(string), true
}
