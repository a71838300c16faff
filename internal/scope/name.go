package scope

import (
	"fmt"
	"regexp"
	"strings"
)

// Collection name building blocks. A document collection is named
// user_{userID}_doc_{safeFilename}; every collection a user may touch starts
// with user_{userID}_.
const (
	userPrefix  = "user_"
	docSegment  = "_doc_"
	feedbackTag = "_feedback"

	// maxSafeFilename caps the sanitised filename segment. Vector store
	// backends limit collection name length; 50 leaves room for the user
	// prefix and version suffixes.
	maxSafeFilename = 50
)

var (
	// unsafeChars matches every character not allowed in a collection name.
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

	// multiUnderscore collapses runs of underscores left by sanitisation.
	multiUnderscore = regexp.MustCompile(`_+`)
)

// UserPrefix returns the namespace prefix owning every collection of userID.
func UserPrefix(userID string) string {
	return userPrefix + userID + "_"
}

// DocPrefix returns the prefix of userID's document collections. It excludes
// the feedback collection, which shares the user namespace but holds
// feedback entries rather than document chunks.
func DocPrefix(userID string) string {
	return userPrefix + userID + docSegment
}

// CollectionName returns the document collection name for userID and the
// given original filename.
func CollectionName(userID, filename string) string {
	return DocPrefix(userID) + SafeFilename(filename)
}

// FeedbackCollection returns the name of userID's feedback collection.
// Feedback entries are namespaced per user so that similarity lookups never
// cross user boundaries.
func FeedbackCollection(userID string) string {
	return userPrefix + userID + feedbackTag
}

// DocumentName extracts the sanitised document name from a collection owned
// by userID. Returns the collection name unchanged if it does not carry the
// document prefix.
func DocumentName(userID, collection string) string {
	return strings.TrimPrefix(collection, DocPrefix(userID))
}

// SafeFilename derives the collection name segment from an uploaded filename.
// Only [a-zA-Z0-9._-] survive; everything else becomes an underscore. The
// result starts and ends with an alphanumeric character, is at most
// maxSafeFilename characters, at least 3, and never empty.
func SafeFilename(filename string) string {
	name := strings.TrimSuffix(filename, ".pdf")
	name = strings.TrimSuffix(name, ".PDF")

	name = unsafeChars.ReplaceAllString(name, "_")
	name = multiUnderscore.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_.")

	if name == "" {
		return "document"
	}
	if !isAlnum(name[0]) {
		name = "doc_" + name
	}
	if !isAlnum(name[len(name)-1]) {
		name += "_doc"
	}
	if len(name) > maxSafeFilename {
		name = name[:maxSafeFilename]
	}
	if len(name) < 3 {
		name = "doc_" + name
	}
	return name
}

// Versioned returns the collection name with a 1-based upload version
// attached. Version 1 is the bare name; later uploads of the same filename
// get _v2, _v3, and so on.
func Versioned(collection string, version int) string {
	if version <= 1 {
		return collection
	}
	return fmt.Sprintf("%s_v%d", collection, version)
}

// isAlnum reports whether b is an ASCII letter or digit.
func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
