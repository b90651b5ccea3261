// internal/serializer/bridge.go
package serializer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/FairForge/tierbank/internal/hotstore"
	"go.uber.org/zap"
)

var (
	// ErrSerializationUnsupported is returned when data has no serializable view
	ErrSerializationUnsupported = errors.New("serializer: data is not serializable")

	// ErrNotStored is returned when there is no hot copy to restore
	ErrNotStored = errors.New("serializer: no hot copy")

	// ErrCorrupt is returned for frames that cannot be decoded
	ErrCorrupt = errors.New("serializer: corrupt hot copy")
)

const (
	frameMagic   = "TBNK"
	frameVersion = 1
	headerSize   = len(frameMagic) + 2
)

// Serializable converts an object to and from a byte stream
type Serializable interface {
	Serialize(w io.Writer) error
	Deserialize(r io.Reader) error
}

// Viewer exposes an optional serializable view of a data object
type Viewer interface {
	AsSerializable() (Serializable, bool)
}

// Bridge moves serialized objects between memory and a hot store
type Bridge struct {
	store  hotstore.Store
	codec  Codec
	logger *zap.Logger
}

// NewBridge writes through store using codec for new frames
func NewBridge(store hotstore.Store, codec Codec, logger *zap.Logger) *Bridge {
	if codec == nil {
		codec = noneCodec{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{store: store, codec: codec, logger: logger}
}

// Backend returns the underlying hot store
func (b *Bridge) Backend() hotstore.Store {
	return b.store
}

// Codec returns the codec used for writing
func (b *Bridge) Codec() Codec {
	return b.codec
}

// Store serializes v and writes the frame under key. It returns the number
// of bytes written to the hot store.
func (b *Bridge) Store(ctx context.Context, key []string, v Viewer) (int64, error) {
	ser, ok := v.AsSerializable()
	if !ok || ser == nil {
		return 0, ErrSerializationUnsupported
	}

	var raw bytes.Buffer
	if err := ser.Serialize(&raw); err != nil {
		return 0, fmt.Errorf("serialize: %w", err)
	}

	payload, err := b.codec.Encode(raw.Bytes())
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", b.codec.Name(), err)
	}

	frame := make([]byte, 0, headerSize+len(payload))
	frame = append(frame, frameMagic...)
	frame = append(frame, frameVersion, b.codec.ID())
	frame = append(frame, payload...)

	if err := b.store.Put(ctx, key, frame); err != nil {
		return 0, fmt.Errorf("write hot copy: %w", err)
	}

	b.logger.Debug("stored hot copy",
		zap.Strings("key", key),
		zap.String("codec", b.codec.Name()),
		zap.Int("raw_bytes", raw.Len()),
		zap.Int("stored_bytes", len(frame)))

	return int64(len(frame)), nil
}

// Restore reads the frame under key and deserializes it into target
func (b *Bridge) Restore(ctx context.Context, key []string, target Serializable) (hotstore.Info, error) {
	if target == nil {
		return hotstore.Info{}, ErrSerializationUnsupported
	}

	frame, info, err := b.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, hotstore.ErrNotExist) {
			return hotstore.Info{}, ErrNotStored
		}
		return hotstore.Info{}, fmt.Errorf("read hot copy: %w", err)
	}

	payload, err := decodeFrame(frame)
	if err != nil {
		return hotstore.Info{}, err
	}

	if err := target.Deserialize(bytes.NewReader(payload)); err != nil {
		return hotstore.Info{}, fmt.Errorf("deserialize: %w", err)
	}
	return info, nil
}

func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < headerSize || string(frame[:len(frameMagic)]) != frameMagic {
		return nil, ErrCorrupt
	}
	if v := frame[len(frameMagic)]; v != frameVersion {
		return nil, fmt.Errorf("%w: version %d", ErrCorrupt, v)
	}

	codec, err := codecByID(frame[len(frameMagic)+1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	payload, err := codec.Decode(frame[headerSize:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, codec.Name(), err)
	}
	return payload, nil
}

// Stat returns the size and write time of the hot copy under key
func (b *Bridge) Stat(ctx context.Context, key []string) (hotstore.Info, error) {
	info, err := b.store.Stat(ctx, key)
	if errors.Is(err, hotstore.ErrNotExist) {
		return hotstore.Info{}, ErrNotStored
	}
	return info, err
}

// Delete discards the hot copy under key
func (b *Bridge) Delete(ctx context.Context, key []string) error {
	return b.store.Delete(ctx, key)
}

// Clear discards every hot copy
func (b *Bridge) Clear(ctx context.Context) error {
	return b.store.Clear(ctx)
}

// IsStale reports whether a hot copy written at writtenAt is older than a
// source modified at modifiedAt. Immutable sources are never stale.
func IsStale(writtenAt, modifiedAt time.Time, immutable bool) bool {
	if immutable {
		return false
	}
	return modifiedAt.After(writtenAt)
}
