package rag

import "strings"

// OutputFormat selects the presentation of a synthesized answer.
type OutputFormat string

const (
	FormatShort        OutputFormat = "short"
	FormatLong         OutputFormat = "long"
	FormatBulletPoints OutputFormat = "bullet_points"
	FormatDetailed     OutputFormat = "detailed"
	FormatTabular      OutputFormat = "tabular"
	FormatSummary      OutputFormat = "summary"
)

// Request defaults when the caller leaves a field out.
const (
	DefaultTopK         = 5
	DefaultOutputFormat = FormatShort
)

// OutputFormats lists every supported format in display order.
var OutputFormats = []OutputFormat{
	FormatShort,
	FormatLong,
	FormatBulletPoints,
	FormatDetailed,
	FormatTabular,
	FormatSummary,
}

// Valid reports whether f is one of the supported formats.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatShort, FormatLong, FormatBulletPoints, FormatDetailed, FormatTabular, FormatSummary:
		return true
	}
	return false
}

// ParseOutputFormat accepts the canonical names case-insensitively.
func ParseOutputFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", NewError(ErrInvalidFormat, false, nil, "unknown output format %q", s)
	}
	return f, nil
}

// ValidateQuery checks a query request against the allowed top_k range.
func ValidateQuery(req QueryRequest, minTopK, maxTopK int) error {
	if strings.TrimSpace(req.Question) == "" {
		return NewError(ErrInvalidFormat, false, nil, "question is empty")
	}
	if req.TopK < minTopK || req.TopK > maxTopK {
		return NewError(ErrInvalidFormat, false, nil, "top_k %d outside [%d,%d]", req.TopK, minTopK, maxTopK)
	}
	if !req.OutputFormat.Valid() {
		return NewError(ErrInvalidFormat, false, nil, "unknown output format %q", req.OutputFormat)
	}
	return nil
}
