package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	dataScheme   = "data:"
	base64Marker = ";base64,"
)

// EncodingError reports an attachment that could not be read or encoded.
type EncodingError struct {
	Name string
	Err  error
}

func (e *EncodingError) Error() string {
	if e == nil {
		return ""
	}
	if e.Name == "" {
		return fmt.Sprintf("encode attachment: %v", e.Err)
	}

	return fmt.Sprintf("encode attachment %q: %v", e.Name, e.Err)
}

func (e *EncodingError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Encode reads the whole blob and returns the standard base64 encoding of its
// bytes, without any media-type prefix. Only I/O failures are errors.
func Encode(blob Blob) (string, error) {
	if blob == nil {
		return "", &EncodingError{Err: errors.New("no attachment selected")}
	}

	reader, err := blob.Open()
	if err != nil {
		return "", &EncodingError{Name: blob.Name(), Err: err}
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", &EncodingError{Name: blob.Name(), Err: err}
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeAttachment encodes a into the image and audio wire slots. At most one
// of the returned values is non-nil.
func EncodeAttachment(a Attachment) (image *string, audio *string, err error) {
	if a.IsNone() {
		return nil, nil, nil
	}

	payload, err := Encode(a.Blob())
	if err != nil {
		return nil, nil, err
	}

	switch a.Kind() {
	case KindImage:
		return &payload, nil, nil
	case KindAudio:
		return nil, &payload, nil
	default:
		return nil, nil, nil
	}
}

// StripDataURIPrefix removes a "data:<type>;base64," prefix from a display
// string such as a normalized reply image. Attachment bytes never go through it.
func StripDataURIPrefix(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, dataScheme) {
		return value
	}

	header, payload, ok := strings.Cut(trimmed, ",")
	if !ok || !strings.HasSuffix(header+",", base64Marker) {
		return value
	}

	return payload
}
