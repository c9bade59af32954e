package xlfmla

import (
	"bytes"
	"io"

	"github.com/richardlehane/mscfb"
	"golang.org/x/xerrors"
)

// CompDocError reports a compound document that holds no readable
// workbook stream.
type CompDocError struct {
	Message string
}

func (e *CompDocError) Error() string {
	return e.Message
}

// WorkbookStream returns the BIFF workbook stream of content: the
// "Workbook" stream of an OLE2 compound document (or "Book" in files
// written by Excel 5 and 95), or content itself when it is a bare stream.
func WorkbookStream(content []byte) ([]byte, error) {
	switch format := InspectFormat(content); format {
	case "biff":
		return content, nil
	case "xls":
	default:
		return nil, xerrors.Errorf("%s; not supported", FileFormatDescriptions[format])
	}
	doc, err := mscfb.New(bytes.NewReader(content))
	if err != nil {
		return nil, &CompDocError{Message: "compound document: " + err.Error()}
	}
	var book []byte
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if entry.Name != "Workbook" && entry.Name != "Book" {
			continue
		}
		buf := make([]byte, entry.Size)
		if _, err := io.ReadFull(entry, buf); err != nil {
			return nil, &CompDocError{Message: "workbook stream: " + err.Error()}
		}
		if entry.Name == "Workbook" {
			return buf, nil
		}
		book = buf
	}
	if book == nil {
		return nil, &CompDocError{Message: "can't find workbook in OLE2 compound document"}
	}
	return book, nil
}
