package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const maxErrorChain = 16

// withErrorDetails appends a structured "<key>Details" object for every error
// field. The default zap.Error key becomes "exceptionDetails".
func withErrorDetails(fields []zapcore.Field) []zapcore.Field {
	var extra []zapcore.Field
	for _, f := range fields {
		if f.Type != zapcore.ErrorType {
			continue
		}
		err, ok := f.Interface.(error)
		if !ok || err == nil {
			continue
		}
		extra = append(extra, zap.Object(detailsKey(f.Key), errorDetails{err: err}))
	}
	if len(extra) == 0 {
		return fields
	}

	out := make([]zapcore.Field, 0, len(fields)+len(extra))
	out = append(out, fields...)
	return append(out, extra...)
}

func detailsKey(key string) string {
	if key == "error" {
		return "exceptionDetails"
	}
	return key + "Details"
}

// errorDetails renders an error with its concrete type and wrapped chain.
type errorDetails struct {
	err error
}

func (d errorDetails) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", fmt.Sprintf("%T", d.err))
	enc.AddString("message", d.err.Error())

	chain := unwrapChain(d.err)
	if len(chain) == 0 {
		return nil
	}
	return enc.AddArray("inner", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
		for _, inner := range chain {
			if err := arr.AppendObject(errorSummary{err: inner}); err != nil {
				return err
			}
		}
		return nil
	}))
}

type errorSummary struct {
	err error
}

func (s errorSummary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", fmt.Sprintf("%T", s.err))
	enc.AddString("message", s.err.Error())
	return nil
}

// unwrapChain walks errors.Unwrap and joined errors breadth first.
func unwrapChain(err error) []error {
	var chain []error
	queue := []error{err}
	for len(queue) > 0 && len(chain) < maxErrorChain {
		current := queue[0]
		queue = queue[1:]

		var next []error
		switch u := current.(type) {
		case interface{ Unwrap() []error }:
			next = u.Unwrap()
		default:
			if inner := errors.Unwrap(current); inner != nil {
				next = []error{inner}
			}
		}
		for _, inner := range next {
			if inner == nil || len(chain) >= maxErrorChain {
				continue
			}
			chain = append(chain, inner)
			queue = append(queue, inner)
		}
	}
	return chain
}
