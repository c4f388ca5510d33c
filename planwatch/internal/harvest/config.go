package harvest

import (
	"time"

	"github.com/hazyhaar/planwatch/retry"
)

// LoopConfig paces the comment extraction loop.
type LoopConfig struct {
	// RateLimitCooldown is the pause before refetching a rate-limited page.
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown"`
	// MaxRateLimitWaits bounds the cooldowns of one run. A negative value
	// ends the run at the first rate limit.
	MaxRateLimitWaits int `yaml:"max_rate_limit_waits"`
	// EmptyRetries is how many times an empty page is refetched before the
	// run ends. Zero takes the default; a negative value disables refetching.
	EmptyRetries int `yaml:"empty_retries"`
	// EmptyCooldown is the pause before refetching an empty page.
	EmptyCooldown retry.Window `yaml:"empty_cooldown"`
	// PageDelay follows every page transition.
	PageDelay retry.Window `yaml:"page_delay"`
	// CommentDelay follows every comment handed to the store.
	CommentDelay retry.Window `yaml:"comment_delay"`
	// CommentWait bounds the wait for comment containers to render.
	CommentWait time.Duration `yaml:"comment_wait"`
}

func (c *LoopConfig) defaults() {
	if c.RateLimitCooldown == 0 {
		c.RateLimitCooldown = 5 * time.Minute
	}
	if c.MaxRateLimitWaits == 0 {
		c.MaxRateLimitWaits = 12
	}
	if c.EmptyRetries == 0 {
		c.EmptyRetries = 1
	}
	if c.EmptyCooldown.IsZero() {
		c.EmptyCooldown = retry.Between(280*time.Second, 320*time.Second)
	}
	if c.PageDelay.IsZero() {
		c.PageDelay = retry.Between(5*time.Second, 10*time.Second)
	}
	if c.CommentDelay.IsZero() {
		c.CommentDelay = retry.Between(1*time.Second, 2*time.Second)
	}
	if c.CommentWait == 0 {
		c.CommentWait = 10 * time.Second
	}
}

// CrawlerConfig paces application lookup and detail scraping.
type CrawlerConfig struct {
	// WaitTimeout bounds every wait for a form field or tab.
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	// SubmitDelay follows a search submission.
	SubmitDelay retry.Window `yaml:"submit_delay"`
	// SettleDelay follows a tab click or results page load.
	SettleDelay retry.Window `yaml:"settle_delay"`
	// DetailAttempts bounds the attempts on one application URL.
	DetailAttempts int `yaml:"detail_attempts"`
	// DetailCooldown separates attempts on one application URL.
	DetailCooldown retry.Window `yaml:"detail_cooldown"`
	// FurtherInfoAttempts bounds the attempts on the further-information tab.
	// Zero takes the default; a negative value skips the tab.
	FurtherInfoAttempts int `yaml:"further_info_attempts"`
	// FurtherInfoDelay precedes every further-information fetch.
	FurtherInfoDelay retry.Window `yaml:"further_info_delay"`
	// URLDelay separates consecutive application URLs.
	URLDelay retry.Window `yaml:"url_delay"`
	// MaxResultPages caps a postcode walk.
	MaxResultPages int `yaml:"max_result_pages"`
}

func (c *CrawlerConfig) defaults() {
	if c.WaitTimeout == 0 {
		c.WaitTimeout = 10 * time.Second
	}
	if c.SubmitDelay.IsZero() {
		c.SubmitDelay = retry.Between(4*time.Second, 10*time.Second)
	}
	if c.SettleDelay.IsZero() {
		c.SettleDelay = retry.Between(2*time.Second, 5*time.Second)
	}
	if c.DetailAttempts == 0 {
		c.DetailAttempts = 3
	}
	if c.DetailCooldown.IsZero() {
		c.DetailCooldown = retry.Between(120*time.Second, 300*time.Second)
	}
	if c.FurtherInfoAttempts == 0 {
		c.FurtherInfoAttempts = 2
	}
	if c.FurtherInfoDelay.IsZero() {
		c.FurtherInfoDelay = retry.Between(1500*time.Millisecond, 5*time.Second)
	}
	if c.URLDelay.IsZero() {
		c.URLDelay = retry.Between(2*time.Second, 8*time.Second)
	}
	if c.MaxResultPages == 0 {
		c.MaxResultPages = 500
	}
}
