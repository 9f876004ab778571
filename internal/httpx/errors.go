package httpx

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ErrorPagePath はエラーページのルートです。
const ErrorPagePath = "/Error/:status"

// ErrorMessage はステータスコードに対応する利用者向けメッセージを返します。
func ErrorMessage(status int) string {
	switch status {
	case http.StatusNotFound:
		return "The page you are looking for could not be found."
	case http.StatusForbidden:
		return "You do not have permission to access this resource."
	case http.StatusInternalServerError:
		return "An internal server error occurred. Please try again later."
	default:
		return "An error occurred while processing your request."
	}
}

// RegisterErrorRoutes はエラーページと未定義ルートの応答を登録します。
func RegisterErrorRoutes(router *gin.Engine) {
	router.GET(ErrorPagePath, ErrorPage)
	router.NoRoute(func(c *gin.Context) {
		respond(c, http.StatusNotFound)
	})
	router.NoMethod(func(c *gin.Context) {
		respond(c, http.StatusMethodNotAllowed)
	})
}

// ErrorPage は GET /Error/:status のハンドラーです。ページ自体は 200 で返します。
func ErrorPage(c *gin.Context) {
	status, err := strconv.Atoi(c.Param("status"))
	if err != nil {
		status = 0
	}
	c.JSON(http.StatusOK, gin.H{
		"statusCode": status,
		"message":    ErrorMessage(status),
	})
}

func respond(c *gin.Context, status int) {
	c.JSON(status, gin.H{
		"statusCode": status,
		"message":    ErrorMessage(status),
	})
}

// Recovery は panic を 500 のエラー応答に変換します。
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, _ any) {
		c.Abort()
		respond(c, http.StatusInternalServerError)
	})
}
