package errors

import "net/http"

// Code pairs a business error code with its HTTP status and canonical
// message.
type Code struct {
	Code    int
	Status  int
	Message string
}

// Error codes, banded per module.
const (
	// Common (1000-1999)
	ErrInternalServer = 1000

	// Storage (2000-2999)
	ErrStorageFailed        = 2000
	ErrStorageFileNotFound  = 2001
	ErrStoragePathTraversal = 2002
	ErrStorageInvalidToken  = 2003
	ErrStorageTokenExpired  = 2004
	ErrStorageImageTooLarge = 2005

	// Book (3000-3999)
	ErrBookNotFound        = 3000
	ErrBookInvalidParams   = 3001
	ErrBookInvalidFileType = 3002
	ErrBookFileTooLarge    = 3003
	ErrBookChapterNotFound = 3004

	// Parsing (4000-4999)
	ErrParseInvalidContainer = 4000
	ErrParseMissingPackage   = 4001
	ErrParseMissingSpine     = 4002
	ErrParseFailed           = 4003
	ErrParseJobNotFound      = 4004
	ErrParseQueueFull        = 4005
)

var codeMap = map[int]Code{
	ErrInternalServer: {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},

	// Storage
	ErrStorageFailed:        {ErrStorageFailed, http.StatusInternalServerError, "Storage operation failed"},
	ErrStorageFileNotFound:  {ErrStorageFileNotFound, http.StatusNotFound, "Stored file not found"},
	ErrStoragePathTraversal: {ErrStoragePathTraversal, http.StatusBadRequest, "Path escapes storage root"},
	ErrStorageInvalidToken:  {ErrStorageInvalidToken, http.StatusForbidden, "Invalid access token"},
	ErrStorageTokenExpired:  {ErrStorageTokenExpired, http.StatusForbidden, "Access token expired"},
	ErrStorageImageTooLarge: {ErrStorageImageTooLarge, http.StatusBadRequest, "Image exceeds size limit"},

	// Book
	ErrBookNotFound:        {ErrBookNotFound, http.StatusNotFound, "Book not found"},
	ErrBookInvalidParams:   {ErrBookInvalidParams, http.StatusBadRequest, "Invalid book parameters"},
	ErrBookInvalidFileType: {ErrBookInvalidFileType, http.StatusBadRequest, "Unsupported file type"},
	ErrBookFileTooLarge:    {ErrBookFileTooLarge, http.StatusBadRequest, "File size exceeds limit"},
	ErrBookChapterNotFound: {ErrBookChapterNotFound, http.StatusNotFound, "Chapter not found"},

	// Parsing
	ErrParseInvalidContainer: {ErrParseInvalidContainer, http.StatusBadRequest, "Invalid book container"},
	ErrParseMissingPackage:   {ErrParseMissingPackage, http.StatusBadRequest, "Package document not found"},
	ErrParseMissingSpine:     {ErrParseMissingSpine, http.StatusBadRequest, "Package has no spine"},
	ErrParseFailed:           {ErrParseFailed, http.StatusInternalServerError, "Book parsing failed"},
	ErrParseJobNotFound:      {ErrParseJobNotFound, http.StatusNotFound, "Parsing job not found"},
	ErrParseQueueFull:        {ErrParseQueueFull, http.StatusServiceUnavailable, "Parsing queue is full"},
}

// GetCode looks up a code, falling back to ErrInternalServer for codes
// nobody registered.
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns the HTTP status for a business code.
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the canonical message for a business code.
func GetMessage(code int) string {
	return GetCode(code).Message
}
