package parser

import (
	"github.com/memscope-index/pkg/errors"
)

func unexpectedTag(offset int64, tag byte) error {
	return errors.Corrupted(errors.StageRecord, offset, "unexpected record tag 0x%02x", tag)
}

func lengthTooLarge(offset int64, length, max uint32) error {
	return errors.Corrupted(errors.StageRecord, offset, "record length %d exceeds %d", length, max)
}

func overrun(at, recordOffset int64, n int64) error {
	return errors.Corrupted(errors.StageRecord, at, "field of %d bytes overruns record at %d", n, recordOffset)
}
