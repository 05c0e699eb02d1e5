package models

import (
	"strings"
	"time"
)

// MimeCategory is the coarse grouping shown in the file library.
type MimeCategory string

const (
	MimeImage    MimeCategory = "image"
	MimeDocument MimeCategory = "document"
	MimeAudio    MimeCategory = "audio"
	MimeVideo    MimeCategory = "video"
	MimeOther    MimeCategory = "other"
)

// KnownMimeCategories lists every category, in display order.
var KnownMimeCategories = []MimeCategory{MimeImage, MimeDocument, MimeAudio, MimeVideo, MimeOther}

// CategorizeMime maps a MIME content type to its library category.
// The mapping happens once, at upload time.
func CategorizeMime(contentType string) MimeCategory {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MimeImage
	case strings.HasPrefix(ct, "audio/"):
		return MimeAudio
	case strings.HasPrefix(ct, "video/"):
		return MimeVideo
	case strings.HasPrefix(ct, "text/"),
		ct == "application/pdf",
		ct == "application/msword",
		ct == "application/rtf",
		strings.HasPrefix(ct, "application/vnd.openxmlformats-officedocument"),
		strings.HasPrefix(ct, "application/vnd.ms-"),
		strings.HasPrefix(ct, "application/vnd.oasis.opendocument"):
		return MimeDocument
	default:
		return MimeOther
	}
}

// FileRecord is a remote-hosted file's metadata. Files use soft delete: the
// row survives with State=deleted and disappears from active listings only.
type FileRecord struct {
	RecordMeta
	Filename    string         `json:"filename"`
	URL         string         `json:"url"`
	Size        int64          `json:"size"`
	Category    MimeCategory   `json:"mime_category"`
	UploadedAt  time.Time      `json:"uploaded_at"`
	Description string         `json:"description,omitempty"`
	State       LifecycleState `json:"lifecycle_state"`
}

// Clone returns a copy used as the pre-mutation snapshot for rollback.
func (f *FileRecord) Clone() *FileRecord {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}
