package ports

import (
	"context"

	"github.com/industry40tv/opc-ua-pub-sub/internal/domain"
)

// VariableHandle is a resolved source reference. Handles are created once at
// activation and reused for every read.
type VariableHandle interface {
	Ref() string
}

// AddressSpace is the read side of the server's variables.
type AddressSpace interface {
	Resolve(ctx context.Context, ref string) (VariableHandle, error)
	Read(ctx context.Context, h VariableHandle) (domain.DataValue, error)
}
