package storagesvc

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// NewKey returns a unique object key under prefix, keeping the extension of filename.
func NewKey(prefix, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return path.Join(prefix, uuid.NewString()+ext)
}
