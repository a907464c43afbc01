package misc

import "strings"

// notFoundFragments covers the absence phrasings of every backend the vault
// talks to: filesystem, S3, and the mongo driver.
var notFoundFragments = []string{
	"not found",
	"does not exist",
	"no such file",
	"no documents in result",
}

// IsNotFoundError reports whether err describes a missing object or document,
// regardless of which storage backend produced it.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, fragment := range notFoundFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
