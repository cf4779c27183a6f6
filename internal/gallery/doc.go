/*
Package gallery holds the controller that decides what the gallery shows.

# Lifecycle

	Unauthenticated -> Authenticating -> (CacheHit | StreamingInitial) -> Ready
	Ready -> LoadingMore -> Ready -> ...
	any -> Unmounted

Mount checks authentication. A rejected session moves to Redirecting and,
after RedirectDelay, asks the Navigator for the root route; nothing is
retried. An accepted session shows the thumbnail cache if it has records.
Otherwise the initial count request sizes a placeholder list and the initial
stream is consumed record by record: each record is appended to the view
and the oldest placeholder is removed. When the stream ends the whole view
is written to the cache.

# Loading more

LoadMore is driven by the scroll trigger (see Observe). It only starts from
Ready with no outstanding placeholders and no stream in flight; any other
call returns false without side effects. A zero count returns to Ready
without touching the cache. Otherwise the cache is cleared, the load-more
stream is appended to the existing view, and the entire view is written
back once the stream ends.

# Uploads

ListenUploads consumes upload.Event values. Each record is prepended to
the view and the cache is rewritten as the new record followed by what it
held before. Records that arrive before Mount has finished loading are held
and applied once the view is first ready; while redirecting they are
refused with api.ErrUnauthenticated.

# Concurrency

One mutex guards the view and the load-more gate, so two concurrent
LoadMore calls start at most one stream. BeginLoadMore claims that gate
synchronously so the scroll trigger knows whether it fired before the
stream runs. A second mutex serialises cache
clear/rewrite cycles. Unmount cancels the shared context, which aborts the
current stream; no record read after that point reaches the view.
*/
package gallery
