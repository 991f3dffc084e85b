package decoder

// Transfer syntax UIDs understood by the decoder.
const (
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ExplicitVRBigEndian    = "1.2.840.10008.1.2.2"

	JPEGBaseline          = "1.2.840.10008.1.2.4.50"
	JPEGExtended          = "1.2.840.10008.1.2.4.51"
	JPEGLossless          = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1       = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless        = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless    = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless      = "1.2.840.10008.1.2.4.90"
	JPEG2000              = "1.2.840.10008.1.2.4.91"
	JPEG2000Part2Lossless = "1.2.840.10008.1.2.4.92"
	JPEG2000Part2         = "1.2.840.10008.1.2.4.93"
	RLELossless           = "1.2.840.10008.1.2.5"
)

var nativeSyntaxes = map[string]struct{}{
	"":                     {},
	ImplicitVRLittleEndian: {},
	ExplicitVRLittleEndian: {},
	ExplicitVRBigEndian:    {},
}

// compressedSyntaxes is the fixed table gating codec dispatch.
var compressedSyntaxes = map[string]string{
	JPEGBaseline:          "JPEG Baseline (Process 1)",
	JPEGExtended:          "JPEG Extended (Process 2 & 4)",
	JPEGLossless:          "JPEG Lossless, Non-Hierarchical (Process 14)",
	JPEGLosslessSV1:       "JPEG Lossless, First-Order Prediction (Process 14, SV1)",
	JPEGLSLossless:        "JPEG-LS Lossless",
	JPEGLSNearLossless:    "JPEG-LS Near-Lossless",
	JPEG2000Lossless:      "JPEG 2000 Lossless Only",
	JPEG2000:              "JPEG 2000",
	JPEG2000Part2Lossless: "JPEG 2000 Part 2 Multi-component Lossless Only",
	JPEG2000Part2:         "JPEG 2000 Part 2 Multi-component",
	RLELossless:           "RLE Lossless",
}

// IsNative reports whether uid carries uncompressed pixel data. An empty uid
// is treated as implicit VR little endian.
func IsNative(uid string) bool {
	_, ok := nativeSyntaxes[uid]
	return ok
}

// IsRecognizedCompressed reports whether uid is in the compressed table.
func IsRecognizedCompressed(uid string) bool {
	_, ok := compressedSyntaxes[uid]
	return ok
}

// SyntaxName returns a readable name for a recognized compressed uid.
func SyntaxName(uid string) string {
	return compressedSyntaxes[uid]
}

func isBigEndian(uid string) bool {
	return uid == ExplicitVRBigEndian
}

func isImplicitVR(uid string) bool {
	return uid == ImplicitVRLittleEndian || uid == ""
}
