package redisstream

// Stream entry field names.
const (
	fieldKey   = "key"
	fieldValue = "value" // raw envelope bytes, no base64
)
