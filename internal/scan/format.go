package scan

import "fmt"

// Format is a result file representation.
type Format string

// Supported result formats.
const (
	FormatOBJ Format = "obj"
	FormatSTL Format = "stl"
	FormatDRC Format = "drc"
)

// Formats returns the closed set of result formats.
func Formats() []Format {
	return []Format{FormatOBJ, FormatSTL, FormatDRC}
}

// ParseFormat validates s against the supported formats.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("invalid file format %q", s)
}

// Filename is the result file name for f. It depends on the format only.
func (f Format) Filename() string {
	return "sample." + string(f)
}

// ContentType is the media type used when delivering a result of format f.
func (f Format) ContentType() string {
	switch f {
	case FormatOBJ:
		return "text/plain"
	case FormatSTL:
		return "application/sla"
	default:
		return "application/octet-stream"
	}
}
