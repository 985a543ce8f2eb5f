package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/leapstack/leap-collector/internal/models"
)

// Every stored log value starts with a format byte so that toggling
// compression does not strand previously written entries.
const (
	formatJSON byte = 0
	formatZstd byte = 1
)

type logCodec struct {
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder

	closeOnce sync.Once
}

func newLogCodec(compress bool) (*logCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &logCodec{compress: compress, encoder: enc, decoder: dec}, nil
}

// close stops the encoder and decoder goroutines. The codec is unusable afterwards.
func (c *logCodec) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.decoder.Close()
		err = c.encoder.Close()
	})
	return err
}

func (c *logCodec) encode(entry models.LogEntry) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode log: %w", err)
	}
	if !c.compress {
		return append([]byte{formatJSON}, raw...), nil
	}
	out := make([]byte, 1, len(raw)/2+1)
	out[0] = formatZstd
	return c.encoder.EncodeAll(raw, out), nil
}

func (c *logCodec) decode(value []byte) (models.LogEntry, error) {
	var entry models.LogEntry
	if len(value) == 0 {
		return entry, fmt.Errorf("empty log value")
	}
	payload := value[1:]
	switch value[0] {
	case formatJSON:
	case formatZstd:
		raw, err := c.decoder.DecodeAll(payload, nil)
		if err != nil {
			return entry, fmt.Errorf("zstd decode: %w", err)
		}
		payload = raw
	default:
		return entry, fmt.Errorf("unknown log format %d", value[0])
	}
	if err := json.Unmarshal(payload, &entry); err != nil {
		return entry, err
	}
	return entry, nil
}
