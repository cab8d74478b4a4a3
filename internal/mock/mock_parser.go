// Package mock provides mock implementations for testing.
package mock

import (
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/internal/parser"
)

// MockRecordParser is a mock implementation of parser.RecordParser.
type MockRecordParser struct {
	mock.Mock
}

var _ parser.RecordParser = (*MockRecordParser)(nil)

// ParseSelectiveFields mocks the ParseSelectiveFields method.
func (m *MockRecordParser) ParseSelectiveFields(rs io.ReadSeeker, fields format.FieldSet) (*parser.PartialRecord, error) {
	args := m.Called(rs, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*parser.PartialRecord), args.Error(1)
}

// ExpectParse sets up an expectation for ParseSelectiveFields with any
// stream and the given fields.
func (m *MockRecordParser) ExpectParse(fields format.FieldSet, rec *parser.PartialRecord, err error) *mock.Call {
	return m.On("ParseSelectiveFields", mock.Anything, fields).Return(rec, err)
}
