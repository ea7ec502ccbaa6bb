package transport

import (
	"context"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/industry40tv/opc-ua-pub-sub/internal/ports"
)

// WithDedupID is ports.WithMessageID, re-exported for callers that only
// import this package.
func WithDedupID(ctx context.Context, id string) context.Context {
	return ports.WithMessageID(ctx, id)
}

// dedupID returns the message id attached to ctx, or a digest of topic and
// payload.
func dedupID(ctx context.Context, topic string, payload []byte) string {
	if id, ok := ports.MessageIDFrom(ctx); ok {
		return id
	}
	d := xxhash.New()
	_, _ = d.WriteString(topic)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(payload)
	return strconv.FormatUint(d.Sum64(), 16)
}
