package detection

import (
	"strconv"
	"strings"
)

// Format is the canonical symbology tag carried by a Detection.
type Format string

const (
	FormatQRCode       Format = "QR_CODE"
	FormatAztec        Format = "AZTEC"
	FormatDataMatrix   Format = "DATA_MATRIX"
	FormatPDF417       Format = "PDF_417"
	FormatMaxiCode     Format = "MAXICODE"
	FormatCode128      Format = "CODE_128"
	FormatCode39       Format = "CODE_39"
	FormatCode93       Format = "CODE_93"
	FormatCode32       Format = "CODE_32"
	FormatCodabar      Format = "CODABAR"
	FormatEAN13        Format = "EAN_13"
	FormatEAN8         Format = "EAN_8"
	FormatUPCA         Format = "UPC_A"
	FormatUPCE         Format = "UPC_E"
	FormatITF          Format = "ITF"
	FormatStandard2of5 Format = "STANDARD_2_OF_5"
	FormatRSS14        Format = "RSS_14"
	FormatRSSExpanded  Format = "RSS_EXPANDED"
	FormatUPCEANExt    Format = "UPC_EAN_EXTENSION"
	FormatUnknown      Format = "UNKNOWN"
)

// DataTypeManual is the dataType of records submitted outside the scan flow.
const DataTypeManual = "MANUAL"

// compactFormats indexes canonical formats by their upper-case alphanumeric
// spelling so "qr_code", "QRCode" and "qr-code" all resolve the same way.
var compactFormats = map[string]Format{
	"QRCODE":          FormatQRCode,
	"QR":              FormatQRCode,
	"AZTEC":           FormatAztec,
	"DATAMATRIX":      FormatDataMatrix,
	"PDF417":          FormatPDF417,
	"MAXICODE":        FormatMaxiCode,
	"CODE128":         FormatCode128,
	"CODE39":          FormatCode39,
	"CODE93":          FormatCode93,
	"CODE32":          FormatCode32,
	"CODABAR":         FormatCodabar,
	"EAN13":           FormatEAN13,
	"EAN8":            FormatEAN8,
	"UPCA":            FormatUPCA,
	"UPCE":            FormatUPCE,
	"ITF":             FormatITF,
	"STANDARD2OF5":    FormatStandard2of5,
	"RSS14":           FormatRSS14,
	"RSSEXPANDED":     FormatRSSExpanded,
	"UPCEANEXTENSION": FormatUPCEANExt,
}

// ordinalFormats maps the numeric BarcodeFormat values reported by ZXing-family 2D engines.
var ordinalFormats = []Format{
	FormatAztec, FormatCodabar, FormatCode39, FormatCode93, FormatCode128,
	FormatDataMatrix, FormatEAN8, FormatEAN13, FormatITF, FormatMaxiCode,
	FormatPDF417, FormatQRCode, FormatRSS14, FormatRSSExpanded, FormatUPCA,
	FormatUPCE, FormatUPCEANExt,
}

// readerFormats maps 1D engine reader names to symbologies.
var readerFormats = map[string]Format{
	"code_128_reader":    FormatCode128,
	"ean_reader":         FormatEAN13,
	"ean_8_reader":       FormatEAN8,
	"code_39_reader":     FormatCode39,
	"code_39_vin_reader": FormatCode39,
	"code_32_reader":     FormatCode32,
	"code_93_reader":     FormatCode93,
	"codabar_reader":     FormatCodabar,
	"upc_reader":         FormatUPCA,
	"upc_e_reader":       FormatUPCE,
	"i2of5_reader":       FormatITF,
	"2of5_reader":        FormatStandard2of5,
}

// ParseFormat resolves a format name or ZXing ordinal to a canonical Format.
// The boolean is false when the value names no known symbology.
func ParseFormat(value string) (Format, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return FormatUnknown, false
	}

	if n, err := strconv.Atoi(value); err == nil {
		if n >= 0 && n < len(ordinalFormats) {
			return ordinalFormats[n], true
		}
		return FormatUnknown, false
	}

	var b strings.Builder
	for _, r := range strings.ToUpper(value) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	f, ok := compactFormats[b.String()]
	if !ok {
		return FormatUnknown, false
	}
	return f, true
}

// ReaderFormat maps a 1D reader name to its symbology.
func ReaderFormat(reader string) (Format, bool) {
	f, ok := readerFormats[strings.ToLower(strings.TrimSpace(reader))]
	return f, ok
}
