// Package imageload validates user-selected files and turns them into
// self-contained EncodedImage values.
package imageload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Brownie44l1/image-classifier/internal/model"
)

var ErrInvalidInput = errors.New("invalid input")

// InvalidInputError reports a missing, non-image or unreadable file.
type InvalidInputError struct {
	Name   string
	Reason string
	Err    error
}

func (e *InvalidInputError) Error() string {
	msg := "invalid image input"
	if e.Name != "" {
		msg += " " + e.Name
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// File is a user-selected file as seen by the loader.
type File interface {
	Name() string
	// ContentType is the declared MIME type; empty when unknown.
	ContentType() string
	Open() (io.ReadCloser, error)
}

// Loader reads files into EncodedImage values. It holds no per-load state;
// superseding loads are resolved by the caller.
type Loader struct{}

func NewLoader() *Loader {
	return &Loader{}
}

// Load reads the whole file and returns it as a data URL. The declared
// content type and the sniffed content must both be images.
func (l *Loader) Load(ctx context.Context, file File) (model.EncodedImage, error) {
	if file == nil {
		return "", &InvalidInputError{Reason: "no file provided"}
	}
	name := file.Name()

	// application/octet-stream carries no information; sniffing decides.
	declared := baseMediaType(file.ContentType())
	if declared != "" && declared != "application/octet-stream" && !isImageType(declared) {
		return "", &InvalidInputError{Name: name, Reason: fmt.Sprintf("content type %q is not an image", declared)}
	}

	rc, err := file.Open()
	if err != nil {
		return "", &InvalidInputError{Name: name, Reason: "failed to open file", Err: err}
	}
	defer rc.Close()

	data, err := readAll(ctx, rc)
	if err != nil {
		return "", &InvalidInputError{Name: name, Reason: "failed to read file", Err: err}
	}
	if len(data) == 0 {
		return "", &InvalidInputError{Name: name, Reason: "file is empty"}
	}

	detected := mimetype.Detect(data)
	sniffed := baseMediaType(detected.String())
	if !isImageType(sniffed) {
		return "", &InvalidInputError{Name: name, Reason: fmt.Sprintf("content looks like %q, not an image", sniffed)}
	}

	return model.EncodeDataURL(sniffed, data), nil
}

// readAll reads r to the end, giving up once ctx is done.
func readAll(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func baseMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

func isImageType(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}

type multipartFile struct {
	header *multipart.FileHeader
}

// FromMultipart adapts an uploaded form file.
func FromMultipart(header *multipart.FileHeader) File {
	if header == nil {
		return nil
	}
	return multipartFile{header: header}
}

func (f multipartFile) Name() string        { return f.header.Filename }
func (f multipartFile) ContentType() string { return f.header.Header.Get("Content-Type") }
func (f multipartFile) Open() (io.ReadCloser, error) {
	return f.header.Open()
}

type pathFile struct {
	path string
}

// FromPath adapts a file on local disk. Its declared type comes from the
// file extension, if known.
func FromPath(path string) File {
	return pathFile{path: path}
}

func (f pathFile) Name() string        { return filepath.Base(f.path) }
func (f pathFile) ContentType() string { return mime.TypeByExtension(filepath.Ext(f.path)) }
func (f pathFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

type bytesFile struct {
	name        string
	contentType string
	data        []byte
}

// FromBytes adapts an in-memory file.
func FromBytes(name, contentType string, data []byte) File {
	return bytesFile{name: name, contentType: contentType, data: data}
}

func (f bytesFile) Name() string        { return f.name }
func (f bytesFile) ContentType() string { return f.contentType }
func (f bytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
