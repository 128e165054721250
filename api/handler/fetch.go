package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/clearance/cache"
	"github.com/use-agent/clearance/cleaner"
	"github.com/use-agent/clearance/engine"
	"github.com/use-agent/clearance/models"
)

// Fetch returns a handler for POST /api/v1/fetch.
//
// Flow:
//  1. Parse & validate request, apply defaults.
//  2. Cache lookup (GET with max_age only).
//  3. Session.Fetch runs the strategy cascade.
//  4. Render HTML bodies in the requested format.
//  5. Flatten the response, store it in the cache, respond.
func Fetch(sess *engine.Session, cl *cleaner.Cleaner, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()

		var req models.FetchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.FetchResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		cacheable := cc != nil && req.MaxAge > 0 && req.Method == http.MethodGet && len(req.Cookies) == 0
		cacheKey := cache.Key(req.Method, req.URL, req.Format, req.Selector, strconv.FormatBool(req.Readability))
		if cacheable {
			if cached, hit := cc.Get(cacheKey, req.MaxAge); hit {
				cached.CacheStatus = "hit"
				cached.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(req.Timeout)*time.Second)
		defer cancel()

		resp, err := sess.Fetch(ctx, toEngineRequest(&req))
		if err != nil {
			respondError(c, err, models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()})
			return
		}

		out := &models.FetchResponse{
			Success:    true,
			StatusCode: resp.StatusCode,
			FinalURL:   resp.FinalURL,
			Headers:    flattenHeader(resp.Header),
			Body:       resp.Text(),
			Strategy:   resp.Strategy,
			UserAgent:  sess.UserAgent(),
		}
		if cl != nil && cleaner.IsHTML(resp.Header.Get("Content-Type")) {
			sourceURL := resp.FinalURL
			if sourceURL == "" {
				sourceURL = req.URL
			}
			rendered, err := cl.Render(out.Body, sourceURL, cleaner.Options{
				Format:      req.Format,
				Selector:    req.Selector,
				Readability: req.Readability,
			})
			if err != nil {
				respondError(c, err, models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()})
				return
			}
			out.Body, out.Title = rendered.Content, rendered.Title
		}
		out.Timing = models.TimingInfo{TotalMs: time.Since(totalStart).Milliseconds()}

		if cacheable {
			cc.Set(cacheKey, out)
			out.CacheStatus = "miss"
		}

		c.JSON(http.StatusOK, out)
	}
}

func toEngineRequest(req *models.FetchRequest) *engine.Request {
	er := &engine.Request{
		Method:  req.Method,
		URL:     req.URL,
		Headers: req.Headers,
		Cookies: req.Cookies,
	}
	if req.Body != "" {
		er.Body = []byte(req.Body)
	} else if len(req.Form) > 0 {
		er.Form = make(url.Values, len(req.Form))
		for k, v := range req.Form {
			er.Form.Set(k, v)
		}
	}
	return er
}

// flattenHeader joins repeated header values with ", ". Set-Cookie values
// are joined with newlines since they may contain commas.
func flattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		sep := ", "
		if strings.EqualFold(k, "Set-Cookie") {
			sep = "\n"
		}
		out[k] = strings.Join(vs, sep)
	}
	return out
}
