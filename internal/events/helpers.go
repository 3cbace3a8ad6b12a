package events

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"

	"ideaflow/internal/domain/audit"
	"ideaflow/pkg/errors"
)

// HeaderActionType lets consumers filter without decoding the payload
const HeaderActionType = "action_type"

// SanitizeUTF8 drops invalid UTF-8 sequences
func SanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}

// ActionType reads the action type header of a message
func ActionType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderActionType {
			return string(h.Value)
		}
	}
	return ""
}

// FanOut emits every record to each sink in order.
// All sinks are attempted; their failures are joined.
type FanOut []audit.Sink

// Emit implements audit.Sink
func (f FanOut) Emit(ctx context.Context, records ...audit.Record) error {
	var errs errors.MultiError
	for _, sink := range f {
		errs.Add(sink.Emit(ctx, records...))
	}
	return errs.ToError()
}
