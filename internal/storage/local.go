// Package storage はアップロードファイルの保存先を提供します。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// PublicPrefix は保存したファイルを参照するパスの接頭辞です。
const PublicPrefix = "/uploads/resumes/"

// Local はローカルディスクにファイルを保存します。
type Local struct {
	dir string
}

// NewLocal は保存先ディレクトリを作成して Local を返します。
func NewLocal(dir string) (*Local, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Save は推測できないファイル名で r を保存し、参照パスを返します。
// 元のファイル名は使わず、ext だけを引き継ぎます。
func (l *Local) Save(ctx context.Context, ext string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := uuid.NewString() + strings.ToLower(ext)
	dst := filepath.Join(l.dir, name)

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return PublicPrefix + name, nil
}

// Remove は Save が返したパスのファイルを削除します。存在しない場合は何もしません。
func (l *Local) Remove(ctx context.Context, publicPath string) error {
	if !strings.HasPrefix(publicPath, PublicPrefix) {
		return fmt.Errorf("unexpected path: %s", publicPath)
	}
	name := path.Base(publicPath)
	if name == "." || name == "/" || strings.Contains(name, "..") {
		return fmt.Errorf("unexpected path: %s", publicPath)
	}
	err := os.Remove(filepath.Join(l.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
