package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/clearance/cache"
	"github.com/use-agent/clearance/cookies"
	"github.com/use-agent/clearance/engine"
	"github.com/use-agent/clearance/models"
)

// netscapeContentType is served when the client asks for text/plain.
const netscapeContentType = "text/plain; charset=utf-8"

// GetCookies returns a handler for GET /api/v1/cookies.
//
// With "Accept: text/plain" or ?format=netscape the jar is returned as a
// Netscape cookie file; otherwise as JSON.
func GetCookies(sess *engine.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		if wantsNetscape(c) {
			c.Header("X-Clearance-User-Agent", sess.UserAgent())
			c.Data(http.StatusOK, netscapeContentType, []byte(sess.ExportNetscape()))
			return
		}
		c.JSON(http.StatusOK, cookiesResponse(sess, 0))
	}
}

// PutCookies returns a handler for PUT /api/v1/cookies.
//
// The body is either a CookiesRequest JSON document or, with a text/plain
// content type, a raw Netscape cookie file whose user agent is taken from
// the X-Clearance-User-Agent header.
func PutCookies(sess *engine.Session, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CookiesRequest
		if strings.HasPrefix(c.ContentType(), "text/plain") {
			raw, err := c.GetRawData()
			if err != nil {
				abortError(c, models.ErrCodeInvalidInput, err.Error())
				return
			}
			req.Netscape = string(raw)
			req.UserAgent = c.GetHeader("X-Clearance-User-Agent")
			req.Replace = c.Query("replace") == "true"
		} else if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, models.ErrCodeInvalidInput, err.Error())
			return
		}

		if req.Netscape == "" && len(req.Cookies) == 0 {
			abortError(c, models.ErrCodeInvalidInput, "provide netscape text or cookies")
			return
		}

		var cs []cookies.Cookie
		if req.Netscape != "" {
			parsed, err := cookies.ParseNetscapeString(req.Netscape)
			if err != nil {
				abortError(c, models.ErrCodeInvalidInput, err.Error())
				return
			}
			cs = parsed
		}
		cs = append(cs, req.Cookies...)

		jar := sess.Jar()
		if req.Replace {
			jar.Clear()
		}
		jar.Merge(cs, req.UserAgent)
		imported := len(cs)
		if cc != nil {
			cc.Purge()
		}

		c.JSON(http.StatusOK, cookiesResponse(sess, imported))
	}
}

// DeleteCookies returns a handler for DELETE /api/v1/cookies. ?name=x
// removes one cookie; without it the jar is cleared.
func DeleteCookies(sess *engine.Session, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		if name := c.Query("name"); name != "" {
			if _, ok := sess.Jar().Get(name); !ok {
				abortError(c, models.ErrCodeNotFound, "cookie "+name+" not found")
				return
			}
			sess.Jar().Delete(name)
		} else {
			sess.Jar().Clear()
		}
		if cc != nil {
			cc.Purge()
		}
		c.JSON(http.StatusOK, cookiesResponse(sess, 0))
	}
}

func wantsNetscape(c *gin.Context) bool {
	if c.Query("format") == "netscape" {
		return true
	}
	return strings.HasPrefix(c.GetHeader("Accept"), "text/plain")
}

func cookiesResponse(sess *engine.Session, imported int) models.CookiesResponse {
	cs := sess.Cookies()
	return models.CookiesResponse{
		Count:     len(cs),
		UserAgent: sess.UserAgent(),
		Cookies:   cs,
		Imported:  imported,
	}
}
