// Package watch provides recursive file-watching for devloop's
// build-and-run development loop. It observes a source tree, filters out
// editor noise, and delivers change events to a callback. Coalescing of
// rapid events is deliberately left to the session controller, which owns
// the debounce timer.
package watch
