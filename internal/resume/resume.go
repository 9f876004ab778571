// Package resume は履歴書アップロードの検証を行います。
//
// サイズと拡張子に加え、ファイル先頭の内容から実際の形式を判定し、拡張子と一致するかを確認します。
// PDF は pdfcpu で構造を検証します。
package resume

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultMaxBytes はアップロードの上限サイズです。
const DefaultMaxBytes int64 = 5 * 1024 * 1024

const (
	ExtPDF  = ".pdf"
	ExtDOCX = ".docx"

	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// 利用者に返すメッセージ
const (
	MsgMissing   = "Please select a file"
	MsgTooLarge  = "File size must be less than 5MB"
	MsgExtension = "Only .pdf and .docx files are allowed"
	MsgMismatch  = "File content does not match its extension"
	MsgCorrupted = "The PDF file appears to be corrupted"
)

// ErrInvalidAttachment は添付ファイルが受け付けられないことを表します。
var ErrInvalidAttachment = errors.New("invalid attachment")

// Error は検証失敗の詳細です。errors.Is(err, ErrInvalidAttachment) が真になります。
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalidAttachment
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalid(msg string, cause error) error {
	return &Error{Message: msg, Err: cause}
}

// Inspector は PDF の構造検証を行います。
type Inspector interface {
	Inspect(rs io.ReadSeeker) (pages int, err error)
}

// PDFInspector は pdfcpu を使う Inspector です。
type PDFInspector struct{}

// Inspect は PDF を検証し、ページ数を返します。
func (PDFInspector) Inspect(rs io.ReadSeeker) (int, error) {
	if err := pdfapi.Validate(rs, nil); err != nil {
		return 0, err
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return pdfapi.PageCount(rs, nil)
}

// Validator はアップロードを検証します。
type Validator struct {
	MaxBytes  int64
	Inspector Inspector
}

// NewValidator は Validator を作成します。maxBytes が 0 以下なら既定値を使います。
func NewValidator(maxBytes int64) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Validator{MaxBytes: maxBytes, Inspector: PDFInspector{}}
}

// Check はファイルを検証し、正規化した拡張子を返します。検証後 rs は先頭に戻されます。
func (v *Validator) Check(filename string, size int64, rs io.ReadSeeker) (string, error) {
	if rs == nil || size <= 0 {
		return "", invalid(MsgMissing, nil)
	}
	if size > v.MaxBytes {
		return "", invalid(MsgTooLarge, nil)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ExtPDF && ext != ExtDOCX {
		return "", invalid(MsgExtension, nil)
	}

	mtype, err := mimetype.DetectReader(rs)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}

	switch ext {
	case ExtPDF:
		if !mtype.Is(mimePDF) {
			return "", invalid(MsgMismatch, nil)
		}
		if v.Inspector != nil {
			if _, err := v.Inspector.Inspect(rs); err != nil {
				return "", invalid(MsgCorrupted, err)
			}
			if _, err := rs.Seek(0, io.SeekStart); err != nil {
				return "", fmt.Errorf("rewind upload: %w", err)
			}
		}
	case ExtDOCX:
		if !mtype.Is(mimeDOCX) {
			return "", invalid(MsgMismatch, nil)
		}
	}
	return ext, nil
}
