package tags

import (
	"fmt"
	"io"

	"github.com/dhowden/tag"
)

// Metadata 是从音频容器中解析出的标签数据。
// 解析不到的字段保持零值；时长、码率等需要解码音频流的字段
// 不在标签解析的能力范围内，由调用方自行决定是否补全。
type Metadata struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Composer    string
	Genre       string
	Year        int
	TrackNumber int
	DiscNumber  int
	Codec       string // 容器/编码类型，如 MP3、FLAC
	Format      string // 标签格式，如 ID3v2.3、VORBIS
	Picture     *Picture
}

// Picture 是内嵌的封面图片。
type Picture struct {
	Ext      string // 不含点的扩展名，如 "jpg"
	MIMEType string
	Data     []byte
}

// Extractor 基于 dhowden/tag 解析内嵌标签，实现 service.TagReader。
type Extractor struct{}

// Extract 从可定位的字节流中解析标签。
// 返回错误时调用方应回退到文件名等兜底元数据。
func (Extractor) Extract(r io.ReadSeeker) (*Metadata, error) {
	m, err := tag.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}

	track, _ := m.Track()
	disc, _ := m.Disc()

	meta := &Metadata{
		Title:       m.Title(),
		Artist:      m.Artist(),
		Album:       m.Album(),
		AlbumArtist: m.AlbumArtist(),
		Composer:    m.Composer(),
		Genre:       m.Genre(),
		Year:        m.Year(),
		TrackNumber: track,
		DiscNumber:  disc,
		Codec:       string(m.FileType()),
		Format:      string(m.Format()),
	}

	if pic := m.Picture(); pic != nil && len(pic.Data) > 0 {
		meta.Picture = &Picture{
			Ext:      pic.Ext,
			MIMEType: pic.MIMEType,
			Data:     pic.Data,
		}
	}

	return meta, nil
}
