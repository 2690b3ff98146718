package chunker

import (
	"github.com/gabriel-vasile/mimetype"
)

// Format tells how a file is chunked
type Format int

const (
	FormatBinary Format = 1
	FormatText   Format = 2
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// DetectFormat sniffs the head of the file. Anything in the text/plain family
// (recipes, markdown, json, yaml...) is text, everything else is binary.
func DetectFormat(path string) (Format, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return FormatBinary, err
	}

	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return FormatText, nil
		}
	}
	return FormatBinary, nil
}
