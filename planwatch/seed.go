package planwatch

import (
	"context"
	"fmt"

	"github.com/hazyhaar/planwatch/planwatch/internal/portal"
	"github.com/hazyhaar/planwatch/planwatch/internal/store"
)

// SampleComments are two known comments used to smoke-test a fresh
// environment.
func SampleComments() []store.Comment {
	return []store.Comment{
		{
			Council:       "lambeth",
			CommentID:     "111",
			ApplicationID: "21/00343/FUL",
			Address:       portal.Absent("not given"),
			Stance:        portal.Present("Objects"),
			Date:          portal.Present("2021-11-08"),
			Text:          "This site is variously known as 75 Knollys Rd or 73-79 Knollys Rd or The Marziale. It has been subject to multiple applications since 2013...",
		},
		{
			Council:       "southwark",
			CommentID:     "2",
			ApplicationID: "22/00412/FUL",
			Address:       portal.Present("123 High Street"),
			Stance:        portal.Present("Supports"),
			Date:          portal.Present("2024-01-15"),
			Text:          "A well-thought-out development that enhances the local community...",
		},
	}
}

// Seed inserts SampleComments. Seeding twice stores them once.
func (s *Service) Seed(ctx context.Context) (store.SyncStats, error) {
	var st store.SyncStats
	for _, c := range SampleComments() {
		st.Read++
		out, err := s.store.Insert(ctx, c)
		switch {
		case err != nil:
			return st, fmt.Errorf("planwatch: seed %s: %w", c.Key(), err)
		case out == store.OutcomeDuplicate:
			st.Duplicates++
		default:
			st.Inserted++
		}
	}
	s.logger.Info("planwatch: seeded", "env", s.store.Env(), "inserted", st.Inserted, "duplicates", st.Duplicates)
	return st, nil
}
