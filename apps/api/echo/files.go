package echoapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/portal/core"
	storagesvc "github.com/trezcool/portal/services/storage"
)

const (
	uploadField   = "file"
	maxUploadSize = 20 << 20 // 20MB
)

// fileResolver uploads request files and turns stored keys into signed download URLs.
type fileResolver struct {
	storage core.FileStorage
	logger  core.Logger
}

func newFileResolver(storage core.FileStorage, logger core.Logger) *fileResolver {
	return &fileResolver{storage: storage, logger: logger}
}

// signedURL returns a download URL for key, null when there is no file or it cannot be signed.
func (f *fileResolver) signedURL(ctx context.Context, key null.String) null.String {
	if !key.Valid || key.String == "" {
		return null.String{}
	}
	url, err := f.storage.SignedURL(ctx, key.String)
	if err != nil {
		f.logger.Warn("signing download URL", errors.Wrapf(err, "signing %q", key.String))
		return null.String{}
	}
	return null.StringFrom(url)
}

// upload stores the multipart `file` of the request under prefix and returns its key.
// When contentTypePrefix is set the detected content type must start with it.
func (f *fileResolver) upload(ctx echo.Context, prefix, contentTypePrefix string) (string, error) {
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		return "", core.NewValidationError(nil, core.FieldError{Field: uploadField, Error: "this field is required"})
	}
	if fh.Size > maxUploadSize {
		return "", core.NewValidationError(nil, core.FieldError{Field: uploadField, Error: "file is too large"})
	}

	src, err := fh.Open()
	if err != nil {
		return "", errors.Wrap(err, "opening uploaded file")
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		return "", errors.Wrap(err, "reading uploaded file")
	}
	contentType := http.DetectContentType(content)
	if contentTypePrefix != "" && !strings.HasPrefix(contentType, contentTypePrefix) {
		return "", core.NewValidationError(nil, core.FieldError{Field: uploadField, Error: "unsupported file type"})
	}

	key := storagesvc.NewKey(prefix, fh.Filename)
	if err = f.storage.Upload(ctx.Request().Context(), key, contentType, bytes.NewReader(content)); err != nil {
		return "", errors.Wrap(err, "uploading file")
	}
	return key, nil
}
