package cvedb

import (
	"archive/zip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"LingLongTa/internal/utils"

	"github.com/pkg/errors"
)

// FileFeed 从本地读取已下载的 NVD API 2.0 响应，支持 .json 和包含一个 .json 的 .zip
type FileFeed struct {
	path   string
	logger *utils.Logger
}

func NewFileFeed(path string) *FileFeed {
	return &FileFeed{
		path:   path,
		logger: utils.NewLogger("file-feed"),
	}
}

// Name 数据源名称
func (ff *FileFeed) Name() string {
	return "file:" + ff.path
}

// Fetch 读取并解析文件中的 vulnerabilities 数组
func (ff *FileFeed) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, &UpstreamError{Source: ff.Name(), Err: err}
	}

	// 检查文件是否存在
	if _, err := os.Stat(ff.path); err != nil {
		return nil, &UpstreamError{Source: ff.Name(), Err: errors.Wrap(err, "文件不可读")}
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(ff.path), ".zip") {
		data, err = ff.extractZip()
	} else {
		data, err = os.ReadFile(ff.path)
	}
	if err != nil {
		return nil, &UpstreamError{Source: ff.Name(), Err: err}
	}

	var resp NVDResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &UpstreamError{Source: ff.Name(), Err: errors.Wrap(err, "解析JSON失败")}
	}
	if resp.Vulnerabilities == nil {
		return nil, &UpstreamError{Source: ff.Name(), Err: errors.New("文件中缺少 vulnerabilities 数组")}
	}

	ff.logger.Info("从 %s 读取 %d 条记录", ff.path, len(resp.Vulnerabilities))
	return resp.Vulnerabilities, nil
}

// 解压ZIP文件，读取第一个JSON文件
func (ff *FileFeed) extractZip() ([]byte, error) {
	r, err := zip.OpenReader(ff.path)
	if err != nil {
		return nil, errors.Wrap(err, "打开ZIP文件失败")
	}
	defer r.Close()

	for _, f := range r.File {
		if strings.HasSuffix(f.Name, ".json") {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()

			content, err := io.ReadAll(rc)
			if err != nil {
				return nil, err
			}

			return content, nil
		}
	}

	return nil, errors.New("未找到JSON文件")
}
