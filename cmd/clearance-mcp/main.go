package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/clearance/models"
)

func main() {
	_ = godotenv.Load()

	apiURL := os.Getenv("CLEARANCE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("CLEARANCE_API_KEY")

	s := newServer(newClient(apiURL, apiKey))
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// newClient returns a resty client for the clearance API.
func newClient(apiURL, apiKey string) *resty.Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")+"/api/v1").
		SetTimeout(10 * time.Minute)
	if apiKey != "" {
		c.SetHeader("X-API-Key", apiKey)
	}
	return c
}

func newServer(c *resty.Client) *server.MCPServer {
	s := server.NewMCPServer(
		"clearance",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	fetchURLTool := mcp.NewTool("fetch_url",
		mcp.WithDescription("Fetch a page that may sit behind an anti-bot challenge. Tries TLS impersonation, challenge solving, a remote solver and a real browser in turn."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to fetch"),
		),
		mcp.WithString("method",
			mcp.Description("HTTP method: 'GET' (default) or 'POST'"),
			mcp.Enum("GET", "POST"),
		),
		mcp.WithString("body",
			mcp.Description("Raw POST body"),
		),
		mcp.WithNumber("max_age",
			mcp.Description("Accept a cached GET response up to this many milliseconds old"),
		),
		mcp.WithString("format",
			mcp.Description("Body format for HTML pages: 'raw' (default), 'html', 'markdown' or 'text'"),
			mcp.Enum("raw", "html", "markdown", "text"),
		),
		mcp.WithString("selector",
			mcp.Description("CSS selector limiting the body to matching elements"),
		),
	)
	s.AddTool(fetchURLTool, handleFetchURL(c))

	harvestTool := mcp.NewTool("harvest_cookies",
		mcp.WithDescription("Open a browser on the server, wait for a human to solve the challenge and import the clearance cookies into the server session. Blocks until the harvest ends."),
		mcp.WithString("origin_url",
			mcp.Description("Site to harvest (default: the server's configured site)"),
		),
		mcp.WithString("challenge_url",
			mcp.Description("Page that triggers the challenge (default: origin_url)"),
		),
		mcp.WithArray("required_cookies",
			mcp.Description("Cookie names that must all be present (default: cf_clearance)"),
		),
		mcp.WithNumber("max_wait",
			mcp.Description("Give up after this many seconds (default: server setting)"),
		),
	)
	s.AddTool(harvestTool, handleHarvestCookies(c, 2*time.Second))

	exportTool := mcp.NewTool("export_cookies",
		mcp.WithDescription("Export the server session's cookies as a Netscape cookie file."),
	)
	s.AddTool(exportTool, handleExportCookies(c))

	return s
}

func apiError(e *models.ErrorDetail, fallback string) *mcp.CallToolResult {
	if e == nil {
		return mcp.NewToolResultError(fallback)
	}
	return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", e.Code, e.Message))
}

func handleFetchURL(c *resty.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		payload := models.FetchRequest{
			URL:      url,
			Method:   request.GetString("method", ""),
			Body:     request.GetString("body", ""),
			MaxAge:   request.GetInt("max_age", 0),
			Format:   request.GetString("format", ""),
			Selector: request.GetString("selector", ""),
		}

		var out models.FetchResponse
		if _, err := c.R().SetContext(ctx).SetBody(payload).SetResult(&out).SetError(&out).Post("/fetch"); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		if !out.Success {
			return apiError(out.Error, "fetch failed"), nil
		}

		result := fmt.Sprintf("Status: %d\nURL: %s\nStrategy: %s\n", out.StatusCode, out.FinalURL, out.Strategy)
		if out.Title != "" {
			result += "Title: " + out.Title + "\n"
		}
		if out.CacheStatus != "" {
			result += "Cache: " + out.CacheStatus + "\n"
		}
		result += "\n" + out.Body
		return mcp.NewToolResultText(result), nil
	}
}

func handleHarvestCookies(c *resty.Client, pollEvery time.Duration) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload := models.HarvestRequest{
			OriginURL:       request.GetString("origin_url", ""),
			ChallengeURL:    request.GetString("challenge_url", ""),
			RequiredCookies: request.GetStringSlice("required_cookies", nil),
			MaxWait:         request.GetInt("max_wait", 0),
		}

		var started models.HarvestResponse
		if _, err := c.R().SetContext(ctx).SetBody(payload).SetResult(&started).SetError(&started).Post("/harvest"); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("harvest request failed: %v", err)), nil
		}
		if started.ID == "" {
			return apiError(started.Error, "harvest job creation failed"), nil
		}

		status, err := pollHarvest(ctx, c, started.ID, pollEvery)
		if err != nil {
			// Leave no browser window behind.
			_, _ = c.R().Delete("/harvest/" + started.ID)
			return mcp.NewToolResultError(fmt.Sprintf("polling harvest job failed: %v", err)), nil
		}
		if status.Result == nil {
			return apiError(status.Error, "harvest ended in state "+status.State), nil
		}

		r := status.Result
		return mcp.NewToolResultText(fmt.Sprintf("Harvest %s: %s\nCookies: %s\nUser-Agent: %s\nApplied to session: %t\n",
			status.ID, status.State, strings.Join(r.Cookies, ", "), r.UserAgent, status.Applied)), nil
	}
}

// pollHarvest polls a harvest job until it carries a result or an error.
func pollHarvest(ctx context.Context, c *resty.Client, id string, every time.Duration) (*models.HarvestStatusResponse, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			var status models.HarvestStatusResponse
			resp, err := c.R().SetContext(ctx).SetResult(&status).Get("/harvest/" + id)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}
			if resp.IsError() {
				return nil, fmt.Errorf("poll returned status %d", resp.StatusCode())
			}
			if status.Result != nil || status.Error != nil {
				return &status, nil
			}
		}
	}
}

func handleExportCookies(c *resty.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := c.R().SetContext(ctx).
			SetHeader("Accept", "text/plain").
			SetQueryParam("format", "netscape").
			Get("/cookies")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		if resp.IsError() {
			var e models.ErrorResponse
			_ = json.Unmarshal(resp.Body(), &e)
			return apiError(e.Error, fmt.Sprintf("export failed with status %d", resp.StatusCode())), nil
		}

		text := resp.String()
		if ua := resp.Header().Get("X-Clearance-User-Agent"); ua != "" {
			text = "# User-Agent: " + ua + "\n" + text
		}
		return mcp.NewToolResultText(text), nil
	}
}
