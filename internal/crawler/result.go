package crawler

// Result is the outcome of a crawl.
type Result struct {
	// Downloaded lists the URLs fetched without error, in the order they
	// were scheduled.
	Downloaded []string

	// Errors maps every failed URL to its *CrawlError.
	Errors map[string]error
}

// Reconcile builds a Result from the scheduled URLs and the per-URL errors.
// A URL that has an error is never reported as downloaded, even if it was
// scheduled. Errors is returned as given; a nil map becomes an empty one.
func Reconcile(downloaded []string, errs map[string]error) *Result {
	if errs == nil {
		errs = map[string]error{}
	}

	ok := make([]string, 0, len(downloaded))
	for _, u := range downloaded {
		if _, failed := errs[u]; failed {
			continue
		}
		ok = append(ok, u)
	}

	return &Result{Downloaded: ok, Errors: errs}
}

// Failed reports the kind of failure recorded for url, if any.
func (r *Result) Failed(url string) (ErrorKind, bool) {
	err, ok := r.Errors[url]
	if !ok {
		return 0, false
	}
	if kind, ok := KindOf(err); ok {
		return kind, true
	}
	return KindDownloadFailure, true
}
