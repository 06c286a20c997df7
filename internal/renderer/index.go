package renderer

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed kiosk.html
var kioskPage []byte

func (b *Bridge) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", kioskPage)
}
