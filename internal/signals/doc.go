// Package signals validates and records classification signals.
//
// Every signal carries a base weight fixed by its source tier at submission
// time. Signals are append-only and content addressed: the id is a name-based
// UUID over the source, the canonical item, the normalized category and a
// time bucket, so resubmitting the same opinion within a bucket is a no-op.
// A newer signal from the same (source type, source id) supersedes older ones
// when consensus is computed; nothing is mutated.
package signals
