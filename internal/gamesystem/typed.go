package gamesystem

import (
	"context"
	"encoding/json"
	"fmt"
)

// Decode unmarshals raw into S; empty input yields the zero value.
func Decode[S any](raw json.RawMessage) (S, error) {
	var s S
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("failed to decode %T: %w", s, err)
	}
	return s, nil
}

func Encode(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return raw, nil
}

// Reduce adapts a typed reducer over state S and payload P.
func Reduce[S, P any](fn func(ctx context.Context, state S, payload P) (S, error)) Reducer {
	return func(ctx context.Context, rawState, rawPayload json.RawMessage) (json.RawMessage, error) {
		state, err := Decode[S](rawState)
		if err != nil {
			return nil, err
		}
		payload, err := Decode[P](rawPayload)
		if err != nil {
			return nil, err
		}
		next, err := fn(ctx, state, payload)
		if err != nil {
			return nil, err
		}
		return Encode(next)
	}
}

// Validate adapts a typed validator. Undecodable input is itself a rejection.
func Validate[S, P any](fn func(ctx context.Context, state S, payload P) []string) Validator {
	return func(ctx context.Context, rawState, rawPayload json.RawMessage) []string {
		state, err := Decode[S](rawState)
		if err != nil {
			return []string{err.Error()}
		}
		payload, err := Decode[P](rawPayload)
		if err != nil {
			return []string{"invalid payload: " + err.Error()}
		}
		return fn(ctx, state, payload)
	}
}

// Select adapts a typed selector returning R.
func Select[S, P, R any](fn func(ctx context.Context, state S, params P) (R, error)) Selector {
	return func(ctx context.Context, rawState, rawParams json.RawMessage) (any, error) {
		state, err := Decode[S](rawState)
		if err != nil {
			return nil, err
		}
		params, err := Decode[P](rawParams)
		if err != nil {
			return nil, err
		}
		return fn(ctx, state, params)
	}
}

// Tick adapts a typed tick function.
func Tick[S any](fn func(ctx context.Context, state S) (S, error)) func(context.Context, json.RawMessage) (json.RawMessage, error) {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		state, err := Decode[S](raw)
		if err != nil {
			return nil, err
		}
		next, err := fn(ctx, state)
		if err != nil {
			return nil, err
		}
		return Encode(next)
	}
}
