// Package batch crawls several seeds with one shared crawler.
//
// Seeds run concurrently up to a limit (golang.org/x/sync/errgroup). They
// all go through the same crawler, so its per-host limit holds across the
// whole batch and two seeds on the same host never exceed it together.
package batch
