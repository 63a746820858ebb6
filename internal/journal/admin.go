package journal

import (
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts a tailsql console over the journal at
// /debug/tailsql/ and a plain-text recent-commands page.
func (j *Journal) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+j.path, j.reader, &tailsql.DBOptions{
		Label: "Autopilot journal",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("commands", "Recent commands sent to the acquisition process", func(w http.ResponseWriter, r *http.Request) {
		rows, err := j.Commands(100)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read journal: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, c := range rows {
			status := c.Reply
			if c.Error != "" {
				status = "error: " + c.Error
			}
			fmt.Fprintf(w, "%s  %-14s %-40s %6dms  %s\n",
				c.SentAt.Format("2006-01-02 15:04:05"), c.Verb, c.Args, c.DurationMS, status)
		}
	})
	return nil
}
