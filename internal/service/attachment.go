package service

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/ledongthuc/pdf"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/model"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/pkg/logger"
)

var ErrFileTooLarge = errors.New("file too large")

// ExtractFileMeta 读取附件内容并生成元信息
// 超过大小上限返回错误且不产生元信息；PDF页数解析失败只返回告警，发送仍可继续
// 文本类内容（text/*及JSON、XML、YAML）统计字符数（按Unicode字符）和空白分隔的词数，其他类型计数为零
func ExtractFileMeta(name, mimeType string, data []byte, maxSize int64) (*model.FileMeta, string, error) {
	size := int64(len(data))
	if size > maxSize {
		return nil, "", fmt.Errorf("%w: %s is %s, limit is %s",
			ErrFileTooLarge, name, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(maxSize)))
	}

	// 浏览器偶尔不带类型，回退到内容嗅探
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	meta := &model.FileMeta{
		Name:     name,
		Size:     size,
		MIMEType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}

	warning := ""
	switch {
	case isTextualMIME(mimeType):
		text := string(data)
		meta.CharCount = utf8.RuneCountInString(text)
		meta.WordCount = len(strings.Fields(text))
	case strings.HasPrefix(mimeType, "application/pdf"):
		pages, err := countPDFPages(data)
		if err != nil {
			logger.Warnf("failed to count pdf pages for %s: %v", name, err)
			warning = fmt.Sprintf("无法读取 %s 的页数，发送不受影响", name)
		} else {
			meta.PageCount = &pages
		}
	}

	return meta, warning, nil
}

// isTextualMIME 按文本统计的类型：text/*、JSON、XML、YAML及+json/+xml后缀的变体
func isTextualMIME(mimeType string) bool {
	// 去掉charset之类的参数
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	if strings.HasPrefix(mimeType, "text/") {
		return true
	}

	switch mimeType {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml":
		return true
	}

	return strings.HasSuffix(mimeType, "+json") || strings.HasSuffix(mimeType, "+xml")
}

// countPDFPages 解析库对损坏文件可能panic，这里统一收敛为错误
func countPDFPages(data []byte) (pages int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf parser panic: %v", rec)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}

	return reader.NumPage(), nil
}
