// Package attachment models the single optional binary a user can send with a
// message and converts it into the base64 form the backend expects.
package attachment

import (
	"bytes"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies which attachment slot a blob occupies.
type Kind int

const (
	KindNone Kind = iota
	KindImage
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	default:
		return "none"
	}
}

// Blob is a raw attachment as selected by the user. It is only read when the
// message is submitted.
type Blob interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// Attachment is either empty or exactly one image or one audio clip.
// The zero value is None.
type Attachment struct {
	kind Kind
	blob Blob
}

// None returns the empty attachment.
func None() Attachment {
	return Attachment{}
}

// Image wraps blob as an image attachment. A nil blob yields None.
func Image(blob Blob) Attachment {
	if blob == nil {
		return None()
	}

	return Attachment{kind: KindImage, blob: blob}
}

// Audio wraps blob as an audio attachment. A nil blob yields None.
func Audio(blob Blob) Attachment {
	if blob == nil {
		return None()
	}

	return Attachment{kind: KindAudio, blob: blob}
}

// Of builds an attachment of the given kind.
func Of(kind Kind, blob Blob) Attachment {
	switch kind {
	case KindImage:
		return Image(blob)
	case KindAudio:
		return Audio(blob)
	default:
		return None()
	}
}

func (a Attachment) Kind() Kind {
	return a.kind
}

func (a Attachment) Blob() Blob {
	return a.blob
}

func (a Attachment) IsNone() bool {
	return a.kind == KindNone || a.blob == nil
}

// Name returns the blob name, or an empty string for None.
func (a Attachment) Name() string {
	if a.IsNone() {
		return ""
	}

	return a.blob.Name()
}

type fileBlob struct {
	path string
}

// File returns a blob backed by a file on disk.
func File(path string) Blob {
	return fileBlob{path: path}
}

func (f fileBlob) Name() string {
	return filepath.Base(f.path)
}

func (f fileBlob) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

type bytesBlob struct {
	name string
	data []byte
}

// Bytes returns a blob backed by an in-memory buffer. The buffer is not copied.
func Bytes(name string, data []byte) Blob {
	return bytesBlob{name: name, data: data}
}

func (b bytesBlob) Name() string {
	return b.name
}

func (b bytesBlob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// KindFromPath infers the attachment slot from a file extension.
func KindFromPath(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return KindNone
	}

	mediaType, ok := knownMediaTypes[ext]
	if !ok {
		mediaType = mime.TypeByExtension(ext)
	}

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return KindImage
	case strings.HasPrefix(mediaType, "audio/"):
		return KindAudio
	default:
		return KindNone
	}
}

// knownMediaTypes pins common extensions so the result does not depend on the
// host mime tables.
var knownMediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".m4a":  "audio/mp4",
	".webm": "audio/webm",
	".flac": "audio/flac",
}
