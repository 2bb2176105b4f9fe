package protocol

// Sentinels and keywords of the line protocol. Keywords are case-sensitive.
const (
	CommandPrefix = "FILE:"
	Delimiter     = ":"

	ActionList     = "LIST"
	ActionUpload   = "UPLOAD"
	ActionDownload = "DOWNLOAD"

	ListHeader     = "FILE_LIST:\n"
	ListTerminator = "END_LIST\n"
	Ready          = "READY"
	FileInfoPrefix = "FILE_INFO:"
	SuccessPrefix  = "SUCCESS: "
	ErrorPrefix    = "ERROR: "
	EchoPrefix     = "Echo: "
)

// Frame sizes.
const (
	// MessageBufferSize bounds a single command/message read.
	MessageBufferSize = 1024
	// ChunkSize is the unit of file data moved per read or write.
	ChunkSize = 8192
)

// Reasons carried by Invalid commands and reported after ErrorPrefix.
const (
	ReasonBadFormat     = "Invalid file command format"
	ReasonUnknownAction = "Unknown file action"
	ReasonSizeRequired  = "File size required for upload"
	ReasonBadSize       = "Invalid file size"
)

// Outcome messages written after a file command.
const (
	MsgUploadOK       = "File uploaded successfully"
	MsgUploadFailed   = "File upload failed"
	MsgDownloadFailed = "File not found or download failed"
	MsgListFailed     = "Failed to list files"
)
