package parser

import "time"

// DefaultPerByteCost is the estimated cost of decoding one byte, used to
// derive EstimatedTimeSaved from skipped bytes.
const DefaultPerByteCost = 2 * time.Nanosecond

// Stats accumulates selective parsing counters for one parser.
type Stats struct {
	RecordsParsed      uint64        `json:"records_parsed"`
	FieldsParsed       uint64        `json:"fields_parsed"`
	FieldsSkipped      uint64        `json:"fields_skipped"`
	BytesSkipped       uint64        `json:"bytes_skipped"`
	ParseTime          time.Duration `json:"parse_time"`
	EstimatedTimeSaved time.Duration `json:"estimated_time_saved"`
}

// Efficiency returns skipped fields as a percentage of all fields seen.
func (s Stats) Efficiency() float64 {
	total := s.FieldsParsed + s.FieldsSkipped
	if total == 0 {
		return 0
	}
	return float64(s.FieldsSkipped) / float64(total) * 100
}

// AvgParseTimePerRecord returns ParseTime divided by RecordsParsed.
func (s Stats) AvgParseTimePerRecord() time.Duration {
	if s.RecordsParsed == 0 {
		return 0
	}
	return s.ParseTime / time.Duration(s.RecordsParsed)
}

// Add returns the sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		RecordsParsed:      s.RecordsParsed + o.RecordsParsed,
		FieldsParsed:       s.FieldsParsed + o.FieldsParsed,
		FieldsSkipped:      s.FieldsSkipped + o.FieldsSkipped,
		BytesSkipped:       s.BytesSkipped + o.BytesSkipped,
		ParseTime:          s.ParseTime + o.ParseTime,
		EstimatedTimeSaved: s.EstimatedTimeSaved + o.EstimatedTimeSaved,
	}
}
