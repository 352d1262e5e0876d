// Package cache persists playback sessions: the cursor, the paragraph
// sequence and the audio generated so far, compressed with zstd so a
// document can be resumed without regenerating its lookahead window.
package cache
