// Package transform provides payload transforms applied to a letter at
// redelivery time, such as upcasting an old event shape to the one the
// current handler expects.
//
// Transforms run lazily: the stored letter is never rewritten. A transform
// that fails leaves the letter in place and its sequence blocked.
package transform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/sdlq/letter"
)

// Func rewrites a message before it is handed to the handler. It must not
// modify its argument in place.
type Func func(ctx context.Context, msg letter.Message) (letter.Message, error)

// Identity returns msg unchanged.
func Identity(_ context.Context, msg letter.Message) (letter.Message, error) {
	return msg, nil
}

// Chain composes transforms left to right. The first error stops the chain.
func Chain(fns ...Func) Func {
	return func(ctx context.Context, msg letter.Message) (letter.Message, error) {
		var err error
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			msg, err = fn(ctx, msg)
			if err != nil {
				return letter.Message{}, err
			}
		}
		return msg, nil
	}
}

// ForType applies fn only to messages whose Type equals msgType.
func ForType(msgType string, fn Func) Func {
	return func(ctx context.Context, msg letter.Message) (letter.Message, error) {
		if msg.Type != msgType {
			return msg, nil
		}
		return fn(ctx, msg)
	}
}

// JSON decodes payloads of the given type as a JSON object, lets edit
// mutate it, and re-encodes the result.
//
//	transform.JSON("OrderPlaced", func(obj map[string]any) error {
//		obj["id"] = "MyNewPrefix-" + obj["id"].(string)
//		return nil
//	})
func JSON(msgType string, edit func(obj map[string]any) error) Func {
	return ForType(msgType, func(_ context.Context, msg letter.Message) (letter.Message, error) {
		var obj map[string]any
		if err := json.Unmarshal(msg.Payload, &obj); err != nil {
			return letter.Message{}, fmt.Errorf("transform %s: decode payload: %w", msgType, err)
		}
		if obj == nil {
			return letter.Message{}, fmt.Errorf("transform %s: payload is not a JSON object", msgType)
		}
		if err := edit(obj); err != nil {
			return letter.Message{}, fmt.Errorf("transform %s: %w", msgType, err)
		}
		payload, err := json.Marshal(obj)
		if err != nil {
			return letter.Message{}, fmt.Errorf("transform %s: encode payload: %w", msgType, err)
		}
		out := msg.Clone()
		out.Payload = payload
		return out, nil
	})
}

// Retype rewrites the type tag from one name to another, for renamed events.
func Retype(from, to string) Func {
	return ForType(from, func(_ context.Context, msg letter.Message) (letter.Message, error) {
		out := msg.Clone()
		out.Type = to
		return out, nil
	})
}
