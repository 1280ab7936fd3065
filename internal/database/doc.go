// Package database keeps the history of crawl runs in a SQLite file
// (modernc.org/sqlite, no cgo).
//
// The database lives at <dir>/webcrawler.db, by default in the XDG data
// directory. The crawl command saves every report unless --no-save is
// given, and the history command reads them back:
//
//	db, err := database.Open(dir, database.DefaultOptions())
//	id, err := db.SaveReport(ctx, report)
//	runs, err := db.ListRuns(ctx, report.Seed)
package database
