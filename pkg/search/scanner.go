package search

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rkoehl/intercom-bulk/pkg/client"
	"github.com/rkoehl/intercom-bulk/pkg/retry"
)

// Config holds scanner configuration.
type Config struct {
	// PageSize is the number of items requested per page (default: 50).
	PageSize int

	// MaxItems bounds the total number of items discovered. 0 means
	// unbounded. Items beyond the bound within a page are discarded and
	// no further pages are fetched.
	MaxItems int

	// Policy is the retry policy applied to each page fetch.
	Policy retry.Policy

	// Filter is the optional admission hook (nil admits everything).
	Filter Filter
}

// Scanner drives a Source through the paginated search endpoint and
// streams each discovered item to a channel. One Scanner performs one
// traversal; it is not restartable mid-run.
type Scanner struct {
	client *client.Client
	source Source
	config Config
	logger zerolog.Logger
}

// NewScanner creates a scanner for one search traversal.
func NewScanner(c *client.Client, source Source, cfg Config) *Scanner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Scanner{
		client: c,
		source: source,
		config: cfg,
		logger: log.With().Str("component", "search").Logger(),
	}
}

// searchPayload is the request body of one page fetch.
type searchPayload struct {
	Query      Query      `json:"query"`
	Pagination pagination `json:"pagination"`
}

type pagination struct {
	PerPage       int    `json:"per_page"`
	StartingAfter string `json:"starting_after,omitempty"`
}

// searchPage is the parsed response of one page fetch. The item array
// key varies by endpoint, so all known keys are tried in order.
type searchPage struct {
	Conversations []Item `json:"conversations"`
	Items         []Item `json:"items"`
	Data          []Item `json:"data"`
	TotalCount    int    `json:"total_count"`
	Pages         struct {
		TotalPages int `json:"total_pages"`
		Next       *struct {
			StartingAfter string `json:"starting_after"`
		} `json:"next"`
	} `json:"pages"`
}

func (p *searchPage) items() []Item {
	switch {
	case p.Conversations != nil:
		return p.Conversations
	case p.Items != nil:
		return p.Items
	default:
		return p.Data
	}
}

// Run fetches pages until the cursor is exhausted, MaxItems is reached,
// or ctx is done, sending every admitted item to out. It returns the
// number of items sent. A page fetch that exhausts the retry policy
// returns a *Failure; the caller decides what to do with items already
// sent. Run never closes out.
func (s *Scanner) Run(ctx context.Context, out chan<- Discovered) (int, error) {
	endpoint := s.source.Endpoint()
	query, err := s.source.BuildQuery()
	if err != nil {
		return 0, &Failure{Page: 0, Err: err}
	}

	s.logger.Info().
		Str("endpoint", endpoint).
		Int("page_size", s.config.PageSize).
		Msg("Starting search")

	start := time.Now()
	count := 0
	cursor := ""

	for pageNum := 1; ; pageNum++ {
		payload := searchPayload{
			Query:      query,
			Pagination: pagination{PerPage: s.config.PageSize, StartingAfter: cursor},
		}

		var body []byte
		_, err := s.config.Policy.Do(ctx, func() error {
			b, callErr := s.client.PostJSON(ctx, endpoint, payload)
			if callErr != nil {
				return callErr
			}
			body = b
			return nil
		})
		if err != nil {
			// The run context ending, by cancel or deadline, is a normal
			// stop. A call timeout that exhausted the retry policy is a
			// genuine page failure.
			if !errors.Is(err, retry.ErrExhausted) &&
				(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return count, err
			}
			return count, &Failure{Page: pageNum, Err: err}
		}

		var page searchPage
		if err := json.Unmarshal(body, &page); err != nil {
			return count, &Failure{Page: pageNum, Err: client.Malformed(endpoint, err)}
		}

		items := page.items()
		s.logger.Debug().
			Int("page", pageNum).
			Int("items", len(items)).
			Msg("Fetched search page")

		if pageNum == 1 && page.TotalCount > 0 {
			s.logger.Info().
				Int("total_count", page.TotalCount).
				Int("total_pages", page.Pages.TotalPages).
				Msg("Search result size reported by server")
		}

		for _, item := range items {
			d := Discovered{Item: item}
			d.ID, d.ExtractErr = s.source.ExtractItemID(item)

			if d.ExtractErr == nil && s.config.Filter != nil {
				admit, ferr := s.config.Filter.Admit(ctx, d.ID)
				if ferr != nil {
					// Fail open: a broken filter must not lose items.
					s.logger.Warn().Err(ferr).Str("item_id", d.ID).Msg("Admission filter error")
				} else if !admit {
					s.logger.Debug().Str("item_id", d.ID).Msg("Item rejected by filter")
					continue
				}
			}

			select {
			case out <- d:
			case <-ctx.Done():
				return count, ctx.Err()
			}
			count++

			if s.config.MaxItems > 0 && count >= s.config.MaxItems {
				s.logger.Info().
					Int("discovered", count).
					Dur("duration", time.Since(start)).
					Msg("Search stopped at max items")
				return count, nil
			}
		}

		if page.Pages.Next == nil || page.Pages.Next.StartingAfter == "" {
			break
		}
		cursor = page.Pages.Next.StartingAfter
	}

	s.logger.Info().
		Int("discovered", count).
		Dur("duration", time.Since(start)).
		Msg("Search complete")

	return count, nil
}
