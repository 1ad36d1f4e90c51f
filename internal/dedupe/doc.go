// Package dedupe provides a time-bounded set of keys used to avoid pushing
// the same vault delivery event twice when a tick has to retry.
package dedupe
