package mcptool

// Exported for tests.
var (
	ConvertToolSpec = convertToolSpec
	ContentText     = contentText
)
