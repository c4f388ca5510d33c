package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
)

// Application is the detail record of one planning application. Every field
// but URL may be absent on its own.
type Application struct {
	Reference             portal.Field `json:"reference"`
	URL                   string       `json:"url"`
	DateValidated         portal.Field `json:"date_validated"`
	Address               portal.Field `json:"address"`
	Description           portal.Field `json:"description"`
	Decision              portal.Field `json:"decision"`
	DecisionDate          portal.Field `json:"decision_date"`
	AppType               portal.Field `json:"app_type"`
	ActualDecisionLevel   portal.Field `json:"actual_decision_level"`
	ExpectedDecisionLevel portal.Field `json:"expected_decision_level"`
}

// Labels of the application detail tables.
const (
	LabelReference             = "Reference"
	LabelValidated             = "Application Validated"
	LabelAddress               = "Address"
	LabelProposal              = "Proposal"
	LabelDecision              = "Decision"
	LabelDecisionIssued        = "Decision Issued Date"
	LabelApplicationType       = "Application Type"
	LabelActualDecisionLevel   = "Actual Decision Level"
	LabelExpectedDecisionLevel = "Expected Decision Level"
)

var errNoReference = errors.New("harvest: reference missing")

func emptyApplication(url, reason string) Application {
	a := portal.Absent(reason)
	return Application{
		URL: url, Reference: a, DateValidated: a, Address: a, Description: a,
		Decision: a, DecisionDate: a, AppType: a, ActualDecisionLevel: a, ExpectedDecisionLevel: a,
	}
}

// ScrapeDetails returns one Application per input URL, in input order. A
// URL whose main tab never yields a reference produces a record with only
// URL set.
func (c *Crawler) ScrapeDetails(ctx context.Context, urls []string) []Application {
	out := make([]Application, 0, len(urls))
	for i, url := range urls {
		if i > 0 && ctx.Err() == nil {
			_ = c.sleeper.Sleep(ctx, c.cfg.URLDelay.Pick())
		}
		if ctx.Err() != nil {
			out = append(out, emptyApplication(url, "cancelled"))
			continue
		}
		c.logger.Info("harvest: scraping application", "n", i+1, "of", len(urls), "url", url)
		out = append(out, c.scrapeOne(ctx, url))
	}
	return out
}

func (c *Crawler) scrapeOne(ctx context.Context, url string) Application {
	log := c.logger.With("url", url)
	attempts := max(c.cfg.DetailAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		app, err := c.scrapeMain(ctx, url)
		if err == nil {
			c.scrapeFurther(ctx, log, url, &app)
			return app
		}
		log.Warn("harvest: detail attempt failed", "attempt", attempt, "of", attempts, "error", err)
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			if err := c.sleeper.Sleep(ctx, c.cfg.DetailCooldown.Pick()); err != nil {
				break
			}
		}
	}
	log.Error("harvest: detail attempts exhausted, recording empty row")
	return emptyApplication(url, "attempts exhausted")
}

func (c *Crawler) scrapeMain(ctx context.Context, url string) (Application, error) {
	if err := c.page.Navigate(ctx, url); err != nil {
		if portal.NavigationRateLimited(err) {
			return Application{}, fmt.Errorf("%w: %w", portal.ErrRateLimited, err)
		}
		return Application{}, err
	}
	_ = c.page.WaitFor(ctx, "th", c.cfg.WaitTimeout)
	doc, err := c.page.Document(ctx)
	if err != nil {
		return Application{}, err
	}
	ref := portal.TableValue(doc, LabelReference)
	if !ref.IsPresent() {
		// Only a page without its table is checked for a throttling notice;
		// a proposal may well mention a "temporarily blocked" road.
		if err := portal.CheckRateLimit(doc); err != nil {
			return Application{}, err
		}
		return Application{}, errNoReference
	}
	return Application{
		Reference:     ref,
		URL:           url,
		DateValidated: portal.TableValue(doc, LabelValidated),
		Address:       portal.TableValue(doc, LabelAddress),
		Description:   portal.TableValue(doc, LabelProposal),
		Decision:      portal.TableValue(doc, LabelDecision),
		DecisionDate:  portal.TableValue(doc, LabelDecisionIssued),
	}, nil
}

// scrapeFurther fills the further-information fields. Failure leaves them
// absent and keeps the record.
func (c *Crawler) scrapeFurther(ctx context.Context, log *slog.Logger, url string, app *Application) {
	if c.cfg.FurtherInfoAttempts < 0 {
		c.furtherAbsent(app, "further info disabled")
		return
	}
	furtherURL, err := portal.WithTab(url, portal.TabDetails)
	if err != nil {
		c.furtherAbsent(app, err.Error())
		return
	}
	attempts := max(c.cfg.FurtherInfoAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.sleeper.Sleep(ctx, c.cfg.FurtherInfoDelay.Pick()); err != nil {
			break
		}
		err := c.page.Navigate(ctx, furtherURL)
		if err == nil {
			d, derr := c.page.Document(ctx)
			if derr == nil {
				appType := portal.TableValue(d, LabelApplicationType)
				actual := portal.TableValue(d, LabelActualDecisionLevel)
				expected := portal.TableValue(d, LabelExpectedDecisionLevel)
				if appType.IsPresent() || actual.IsPresent() || expected.IsPresent() {
					app.AppType, app.ActualDecisionLevel, app.ExpectedDecisionLevel = appType, actual, expected
					return
				}
				derr = portal.CheckRateLimit(d)
			}
			if derr == nil {
				app.AppType = portal.TableValue(d, LabelApplicationType)
				app.ActualDecisionLevel = portal.TableValue(d, LabelActualDecisionLevel)
				app.ExpectedDecisionLevel = portal.TableValue(d, LabelExpectedDecisionLevel)
				return
			}
			err = derr
		}
		log.Warn("harvest: further info attempt failed", "attempt", attempt, "of", attempts, "error", err)
	}
	c.furtherAbsent(app, "further info unavailable")
}

func (c *Crawler) furtherAbsent(app *Application, reason string) {
	a := portal.Absent(reason)
	app.AppType, app.ActualDecisionLevel, app.ExpectedDecisionLevel = a, a, a
}
