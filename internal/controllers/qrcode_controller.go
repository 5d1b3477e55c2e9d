package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

type QRCodeController struct {
	baseURL string
}

func NewQRCodeController(baseURL string) *QRCodeController {
	return &QRCodeController{
		baseURL: baseURL,
	}
}

// GenerateQRCode handles GET /api/v1/qrcode/:shortCode - returns a PNG QR
// code pointing at the short URL
func (qc *QRCodeController) GenerateQRCode(c *gin.Context) {
	shortCode := c.Param("shortCode")
	if shortCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Short code is required",
		})
		return
	}

	shortURL := qc.baseURL + "/" + shortCode

	// 256x256 pixels, medium error recovery
	pngData, err := qrcode.Encode(shortURL, qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate QR code",
		})
		return
	}

	c.Header("Content-Disposition", "inline; filename=qrcode.png")
	c.Data(http.StatusOK, "image/png", pngData)
}
