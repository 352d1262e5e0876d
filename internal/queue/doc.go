// Package queue decides which paragraph to generate next. It keeps the
// lookahead window ahead of the playback cursor filled nearest gap first,
// allows a single outstanding generation request, and tracks per-paragraph
// retry budgets.
package queue
