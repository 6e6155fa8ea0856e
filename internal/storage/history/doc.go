// Package history persists the order history of recorded sync runs.
package history
