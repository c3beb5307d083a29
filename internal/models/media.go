package models

import "io"

// MediaKind — назначение загружаемого изображения.
type MediaKind string

const (
	MediaAvatar     MediaKind = "avatars"
	MediaCoverImage MediaKind = "covers"
)

// MediaUpload — входящий файл для объектного хранилища.
// Body читается ровно один раз; закрывает его вызывающая сторона.
type MediaUpload struct {
	Kind        MediaKind
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}
