// Package zerolog adapts a zerolog.Logger to the engine's logger.Logger
// interface.
package zerolog

import (
	"github.com/rs/zerolog"
)

type Handler struct {
	logger zerolog.Logger
}

func New(l zerolog.Logger) *Handler {
	return &Handler{logger: l}
}

func (h *Handler) Error(msg string, args ...any) {
	h.event(h.logger.Error(), msg, args)
}

func (h *Handler) Warn(msg string, args ...any) {
	h.event(h.logger.Warn(), msg, args)
}

func (h *Handler) Info(msg string, args ...any) {
	h.event(h.logger.Info(), msg, args)
}

func (h *Handler) Debug(msg string, args ...any) {
	h.event(h.logger.Debug(), msg, args)
}

// event maps alternating key-value args onto zerolog fields. A trailing key
// without a value is logged under the "arg" field rather than dropped.
func (h *Handler) event(e *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			e = e.Interface("arg", args[i])
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	if len(args)%2 == 1 {
		e = e.Interface("arg", args[len(args)-1])
	}
	e.Msg(msg)
}
