// Package vault implements the owner-facing operations on time-locked messages.
package vault
