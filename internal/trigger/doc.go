// Package trigger decides when scrolling should load more images.
//
// A sentinel sits at the end of the gallery. Each scroll observation is
// checked in order: the trigger must be attached, the user must not be
// scrolling up, the sentinel must be within the threshold, the view must
// have no outstanding placeholders and the rate limiter must allow it. Only
// then does the trigger claim the loader's gate with BeginLoadMore, before
// returning. Of two observations racing past the checks only one wins the
// claim, so only one reports that it fired and only one stream starts.
package trigger
