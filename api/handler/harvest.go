package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/clearance/cache"
	"github.com/use-agent/clearance/config"
	"github.com/use-agent/clearance/cookies"
	"github.com/use-agent/clearance/engine"
	"github.com/use-agent/clearance/harvest"
	"github.com/use-agent/clearance/models"
	"github.com/use-agent/clearance/webhook"
)

// harvestStore holds all in-flight and completed harvest jobs.
var harvestStore sync.Map

func init() {
	// Background goroutine to expire finished harvest jobs older than 1 hour.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			expireHarvests(time.Now().Add(-1 * time.Hour).Unix())
		}
	}()
}

func expireHarvests(cutoff int64) {
	harvestStore.Range(func(key, value any) bool {
		job := value.(*models.HarvestJob)
		if job.Done() && job.CreatedAt < cutoff {
			harvestStore.Delete(key)
		}
		return true
	})
}

// activeHarvests counts jobs whose worker is still running.
func activeHarvests() int {
	n := 0
	harvestStore.Range(func(_, value any) bool {
		if !value.(*models.HarvestJob).Done() {
			n++
		}
		return true
	})
	return n
}

// PostHarvest returns a handler for POST /api/v1/harvest.
//
// The harvest runs in the background; poll GET /api/v1/harvest/:id or
// pass a webhook_url. Harvested cookies are imported into sess unless
// apply is false.
func PostHarvest(sess *engine.Session, f harvest.DriverFactory, cfg *config.Config, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.HarvestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			abortError(c, models.ErrCodeInvalidInput, err.Error())
			return
		}

		opts, err := harvestOptions(&req, cfg, f)
		if err != nil {
			respondHarvestError(c, err)
			return
		}
		events := make(chan harvest.Event)
		opts.Events = events

		w, err := harvest.New(opts)
		if err != nil {
			respondHarvestError(c, err)
			return
		}

		job := &models.HarvestJob{
			ID:            "harvest-" + uuid.NewString(),
			CreatedAt:     time.Now().Unix(),
			WebhookURL:    req.WebhookURL,
			WebhookSecret: req.WebhookSecret,
			Apply:         req.ShouldApply(),
			Stop:          w.Stop,
		}
		job.Update(w.State().String(), "")
		harvestStore.Store(job.ID, job)

		go runHarvest(sess, cc, job, w, events)
		w.Start()

		slog.Info("harvest started", "id", job.ID, "challenge_url", opts.ChallengeURL, "headless", opts.Headless)
		c.JSON(http.StatusAccepted, models.HarvestResponse{
			ID:    job.ID,
			State: w.State().String(),
		})
	}
}

// GetHarvest returns a handler for GET /api/v1/harvest/:id.
func GetHarvest() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := loadHarvest(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, job.Snapshot())
	}
}

// DeleteHarvest returns a handler for DELETE /api/v1/harvest/:id. It stops
// a running harvest; the job record remains until it expires.
func DeleteHarvest() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := loadHarvest(c)
		if !ok {
			return
		}
		if job.Stop != nil {
			job.Stop()
		}
		c.JSON(http.StatusOK, job.Snapshot())
	}
}

func loadHarvest(c *gin.Context) (*models.HarvestJob, bool) {
	val, ok := harvestStore.Load(c.Param("id"))
	if !ok {
		abortError(c, models.ErrCodeNotFound, "harvest job not found")
		return nil, false
	}
	return val.(*models.HarvestJob), true
}

// harvestOptions layers the request over the configured harvest. A request
// that names its own origin does not inherit the configured site's
// challenge URL, cookie domain or consent cookie.
func harvestOptions(req *models.HarvestRequest, cfg *config.Config, f harvest.DriverFactory) (harvest.Options, error) {
	hc := cfg.Harvest
	if req.OriginURL != "" {
		hc.OriginURL = req.OriginURL
		hc.ChallengeURL = req.ChallengeURL
		hc.CookieDomain = req.CookieDomain
		hc.ConsentCookie = req.ConsentCookie
	} else {
		if req.ChallengeURL != "" {
			hc.ChallengeURL = req.ChallengeURL
		}
		if req.CookieDomain != "" {
			hc.CookieDomain = req.CookieDomain
		}
		if req.ConsentCookie != "" {
			hc.ConsentCookie = req.ConsentCookie
		}
	}
	if len(req.RequiredCookies) > 0 {
		hc.RequiredCookies = req.RequiredCookies
	}
	if req.MaxWait > 0 {
		hc.MaxWait = time.Duration(req.MaxWait) * time.Second
	}

	opts, err := harvest.OptionsFromConfig(hc, f)
	if err != nil {
		return harvest.Options{}, err
	}
	if req.Headless != nil {
		opts.Headless = *req.Headless
	}
	return opts, nil
}

// runHarvest drains the worker's events into job until the run ends, then
// records the outcome, applies the cookies and fires the webhook.
func runHarvest(sess *engine.Session, cc *cache.Cache, job *models.HarvestJob, w *harvest.Worker, events <-chan harvest.Event) {
	for {
		select {
		case ev := <-events:
			job.Update(ev.State.String(), ev.Message)
		case <-w.Done():
			res, err := w.Wait()
			finishHarvest(sess, cc, job, w.State(), res, err)
			return
		}
	}
}

func finishHarvest(sess *engine.Session, cc *cache.Cache, job *models.HarvestJob, state harvest.State, res *harvest.Result, err error) {
	if err != nil {
		detail := models.AsDetail(err)
		job.Finish(state.String(), nil, false, detail)
		slog.Warn("harvest ended", "id", job.ID, "state", state.String(), "error", err)
		if job.WebhookURL != "" && !errors.Is(err, models.ErrHarvestCancelled) {
			webhook.DeliverAsync(job.WebhookURL, job.WebhookSecret, &webhook.Event{
				Type:      webhook.EventHarvestFailed,
				JobID:     job.ID,
				Timestamp: time.Now().Unix(),
				Data:      detail,
			}, nil)
		}
		return
	}

	result := &models.HarvestResult{
		CookieFile: res.CookieFile,
		Cookies:    cookies.Names(res.Cookies),
		UserAgent:  res.UserAgent,
		FinalURL:   res.FinalURL,
		ElapsedMs:  res.Elapsed.Milliseconds(),
	}

	applied := false
	if job.Apply {
		if _, ierr := sess.ImportNetscape(res.CookieFile, res.UserAgent); ierr != nil {
			slog.Error("harvest: import cookies into session", "id", job.ID, "error", ierr)
		} else {
			applied = true
			if cc != nil {
				cc.Purge()
			}
		}
	}
	job.Finish(state.String(), result, applied, nil)
	slog.Info("harvest succeeded", "id", job.ID, "cookies", len(res.Cookies), "applied", applied, "elapsed", res.Elapsed)

	if job.WebhookURL != "" {
		webhook.DeliverAsync(job.WebhookURL, job.WebhookSecret, &webhook.Event{
			Type:      webhook.EventHarvestCompleted,
			JobID:     job.ID,
			Timestamp: time.Now().Unix(),
			Data:      result,
		}, nil)
	}
}

func respondHarvestError(c *gin.Context, err error) {
	detail := models.AsDetail(err)
	c.AbortWithStatusJSON(mapErrorToStatus(detail.Code), models.HarvestResponse{Error: detail})
}
