package indexcache

import (
	"encoding/json"
	"fmt"

	"github.com/memscope-index/internal/index"
	"github.com/memscope-index/pkg/compression"
	"github.com/memscope-index/pkg/errors"
)

// Artifact layout:
//
//	"MSIX" version:u8 compression:u8 payload
//
// payload is the JSON encoding of a BinaryIndex, compressed with the
// codec named by the compression byte.
const (
	artifactMagic      = "MSIX"
	artifactVersion    = uint8(1)
	envelopeHeaderSize = len(artifactMagic) + 2
	artifactExt        = ".msix"
)

func encodeArtifact(idx *index.BinaryIndex, c compression.Compressor) ([]byte, error) {
	payload, err := json.Marshal(idx)
	if err != nil {
		return nil, cacheError("encode index", err)
	}
	compressed, err := c.Compress(payload)
	if err != nil {
		return nil, cacheError("compress index", err)
	}

	out := make([]byte, 0, envelopeHeaderSize+len(compressed))
	out = append(out, artifactMagic...)
	out = append(out, artifactVersion, byte(c.Type()))
	return append(out, compressed...), nil
}

func decodeArtifact(data []byte) (*index.BinaryIndex, error) {
	if len(data) < envelopeHeaderSize || string(data[:len(artifactMagic)]) != artifactMagic {
		return nil, cacheError("not an index artifact", nil)
	}
	if v := data[len(artifactMagic)]; v != artifactVersion {
		return nil, cacheError(fmt.Sprintf("unsupported artifact version %d", v), nil)
	}

	payload, err := compression.Decompress(compression.Type(data[len(artifactMagic)+1]), data[envelopeHeaderSize:])
	if err != nil {
		return nil, cacheError("decompress index", err)
	}

	var idx index.BinaryIndex
	if err := json.Unmarshal(payload, &idx); err != nil {
		return nil, cacheError("decode index", err)
	}
	if idx.Version != index.FormatVersion {
		return nil, cacheError(fmt.Sprintf("index version %d, want %d", idx.Version, index.FormatVersion), nil)
	}
	return &idx, nil
}

func cacheError(msg string, err error) error {
	return errors.Wrap(errors.CodeCacheError, msg, err).At(errors.StageIndexCache, errors.NoOffset)
}
