// Package planner runs named, recurring jobs on cron schedules.
//
// Handlers are registered by name with Define. Jobs reference a handler by
// name, carry a small string payload, and recur on a five-field cron
// expression evaluated in a named time zone. Jobs are persisted in the
// planner_jobs table and reloaded by Start, so a restart keeps every
// schedule.
//
// Usage:
//
//	p := planner.New(planner.NewSQLiteRepository(db.DB))
//	p.Define("irrigation:start", startHandler)
//	job, err := p.Schedule(ctx, planner.Job{
//	    Name:     "irrigation:start",
//	    Data:     map[string]string{"circuit": "c1"},
//	    Cron:     "30 6 * * 1",
//	    Timezone: "Europe/Moscow",
//	})
//	p.Start(ctx)
//	defer p.Stop()
package planner
