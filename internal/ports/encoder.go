package ports

import "github.com/industry40tv/opc-ua-pub-sub/internal/domain"

// Encoder turns network messages into wire bytes. Implementations are pure:
// the same input always yields the same bytes.
type Encoder interface {
	Encode(msg domain.NetworkMessage) ([]byte, error)
	EncodeMetaData(msg domain.MetaDataMessage) ([]byte, error)
	ContentType() string
}
