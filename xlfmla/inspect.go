package xlfmla

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"strings"
)

// FileFormatDescriptions describes the formats InspectFormat reports.
var FileFormatDescriptions = map[string]string{
	"xls":  "Excel xls",
	"biff": "BIFF8 workbook stream",
	"xlsb": "Excel 2007 xlsb file",
	"xlsx": "Excel xlsx file",
	"ods":  "Openoffice.org ODS file",
	"zip":  "Unknown ZIP file",
	"":     "Unknown file type",
}

// XLSSignature is the magic cookie of an OLE2 compound document.
var XLSSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

var zipSignature = []byte("PK\x03\x04")

// InspectFormat returns the format of content as a key of
// FileFormatDescriptions, or "" when it cannot be determined.
func InspectFormat(content []byte) string {
	if bytes.HasPrefix(content, XLSSignature) {
		return "xls"
	}
	if len(content) >= 8 && binary.LittleEndian.Uint16(content) == recBOF &&
		binary.LittleEndian.Uint16(content[4:]) == biff8Version {
		return "biff"
	}
	if !bytes.HasPrefix(content, zipSignature) {
		return ""
	}
	zf, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return ""
	}
	// Some third party files use backslashes and lower case names.
	componentNames := make(map[string]bool)
	for _, f := range zf.File {
		componentNames[strings.ToLower(strings.ReplaceAll(f.Name, "\\", "/"))] = true
	}
	switch {
	case componentNames["xl/workbook.xml"]:
		return "xlsx"
	case componentNames["xl/workbook.bin"]:
		return "xlsb"
	case componentNames["content.xml"]:
		return "ods"
	}
	return "zip"
}
