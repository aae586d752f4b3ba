package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/service"
)

// UploadAttachment 接收multipart文件并暂存为下一条消息的附件。
// 一次只能暂存一个附件，重复上传直接替换。
func (h *ChatHandler) UploadAttachment(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	// 声明的大小就超限时不读内容，直接拒绝
	if maxSize := h.chatService.MaxFileSize(); fileHeader.Size > maxSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "file too large: limit is " + humanize.IBytes(uint64(maxSize)),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	meta, warning, err := h.chatService.StageAttachment(fileHeader.Filename, mimeType, data)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, service.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"file": meta.WithoutData()}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusOK, resp)
}

// GetAttachment 当前暂存的附件元信息，没有时file为null
func (h *ChatHandler) GetAttachment(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"file": h.chatService.StagedAttachment().WithoutData(),
	})
}

func (h *ChatHandler) ClearAttachment(c *gin.Context) {
	h.chatService.ClearAttachment()
	c.JSON(http.StatusOK, gin.H{"message": "Attachment cleared successfully"})
}
